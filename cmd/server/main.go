package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/Newton-b/raphtrack-core/internal/api"
	"github.com/Newton-b/raphtrack-core/internal/auth"
	"github.com/Newton-b/raphtrack-core/internal/config"
	"github.com/Newton-b/raphtrack-core/internal/feed"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	if err := config.Load(configPath); err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	cfg := config.Get()

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)

	var rbac *auth.RBAC
	if cfg.Auth.RolesFile != "" {
		var err error
		rbac, err = auth.NewRBACFromFile(cfg.Auth.RolesFile)
		if err != nil {
			log.Fatalf("load role table: %v", err)
		}
		logger.Printf("role table loaded from %s", cfg.Auth.RolesFile)
	} else {
		rbac = auth.NewRBAC()
	}

	secret := cfg.Auth.JWT.Secret
	if secret == "" {
		if cfg.App.IsProduction() {
			log.Fatal("auth.jwt.secret is required in production")
		}
		secret = "dev-only-secret"
		logger.Println("warning: using development JWT secret")
	}
	jwtManager := auth.NewJWTManager(secret, cfg.Auth.JWT.Issuer, cfg.Auth.JWT.Duration)

	users := cfg.Auth.StaticUsers
	if len(users) == 0 && !cfg.App.IsProduction() {
		users = []string{
			"admin:admin123:administrator",
			"shipper:shipper123:shipper",
			"carrier:carrier123:carrier",
		}
		logger.Println("warning: no static users configured, seeding demo accounts")
	}
	identity := auth.NewStaticIdentityProvider(users, rbac)

	// Pick the event source: a Redis pub/sub bridge when one is
	// configured, the built-in simulator otherwise.
	var source feed.Source
	switch {
	case cfg.Redis.Enabled:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisSource := feed.NewRedisSource(client, logger)
		defer redisSource.Close()
		source = redisSource
		logger.Printf("event source: redis at %s", cfg.Redis.Addr())
	default:
		sim := feed.NewSimSource(cfg.Feed.SimSeed, logger)
		defer sim.Stop()
		source = sim
		logger.Println("event source: simulator")
	}

	feedCfg := feed.Config{
		HeartbeatInterval:    cfg.Feed.HeartbeatInterval,
		MetricsInterval:      cfg.Feed.MetricsInterval,
		NotificationInterval: cfg.Feed.NotificationInterval,
		ShipmentInterval:     cfg.Feed.ShipmentInterval,
		HandshakeTimeout:     cfg.Feed.HandshakeTimeout,
		RingCapacity:         cfg.Feed.RingCapacity,
		Backoff: feed.Backoff{
			Base:        cfg.Feed.Backoff.Base,
			Cap:         cfg.Feed.Backoff.Cap,
			Factor:      cfg.Feed.Backoff.Factor,
			MaxAttempts: cfg.Feed.Backoff.MaxAttempts,
		},
	}

	// The resident session answers REST reads. It connects with a
	// service-issued token so the same fail-closed path guards it.
	resident := feed.NewSession(feedCfg, source, jwtManager, logger)
	defer resident.Close()

	residentToken, err := jwtManager.GenerateToken("svc-resident", "resident", "administrator")
	if err != nil {
		log.Fatalf("issue resident token: %v", err)
	}
	ok, err := resident.Connect(context.Background(), "svc-resident", residentToken)
	if err != nil {
		log.Fatalf("connect resident feed session: %v", err)
	}
	if !ok {
		// Reconnect runs in the background; REST reads serve what the
		// session has once it gets through.
		logger.Println("warning: resident feed session not connected yet")
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if !cfg.App.IsProduction() {
		router.Use(gin.Logger())
	}
	server := api.NewServer(jwtManager, identity, feedCfg, source, resident, logger)
	server.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Printf("%s listening on %s", cfg.App.Name, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Println("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
