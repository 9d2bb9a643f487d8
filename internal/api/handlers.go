package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Newton-b/raphtrack-core/internal/auth"
	"github.com/Newton-b/raphtrack-core/internal/middleware"
	"github.com/Newton-b/raphtrack-core/internal/models"
)

type loginRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string            `json:"token"`
	Principal *models.Principal `json:"principal"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "login and password are required"})
		return
	}

	principal, err := s.identity.Authenticate(req.Login, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		s.logger.Printf("api: login failed for %s: %v", req.Login, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	token, err := s.jwtManager.GenerateToken(principal.ID, principal.Login, string(principal.Role))
	if err != nil {
		s.logger.Printf("api: token generation failed for %s: %v", principal.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponse{Token: token, Principal: principal})
}

// handleListNotifications returns the retained feed, newest first,
// filtered to broadcasts plus entries targeted at the caller.
func (s *Server) handleListNotifications(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)
	all := s.resident.Notifications()
	visible := make([]models.Notification, 0, len(all))
	for _, n := range all {
		if n.PrincipalID == "" || n.PrincipalID == principal.ID {
			visible = append(visible, n)
		}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": visible, "count": len(visible)})
}

func (s *Server) handleMarkNotificationRead(c *gin.Context) {
	principal := middleware.PrincipalFrom(c)
	id := c.Param("id")

	// Only the owning principal may flip the read flag. An entry targeted
	// at someone else is as good as unknown here, matching the visibility
	// rule of the list handler.
	visible := false
	for _, n := range s.resident.Notifications() {
		if n.ID == id {
			visible = n.PrincipalID == "" || n.PrincipalID == principal.ID
			break
		}
	}
	if !visible {
		c.JSON(http.StatusOK, gin.H{"id": id, "changed": false})
		return
	}

	changed := s.resident.MarkNotificationRead(id)
	// Idempotent: marking an already-read id is not an error.
	c.JSON(http.StatusOK, gin.H{"id": id, "changed": changed})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	snap := s.resident.Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no metrics published yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleListShipments(c *gin.Context) {
	shipments := s.resident.Shipments()
	c.JSON(http.StatusOK, gin.H{"shipments": shipments, "count": len(shipments)})
}

func (s *Server) handleGetShipment(c *gin.Context) {
	state, ok := s.resident.ShipmentState(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown shipment"})
		return
	}
	c.JSON(http.StatusOK, state)
}
