package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"liveclass-backend/internal/config"
	"liveclass-backend/internal/database"
	"liveclass-backend/internal/handlers"
	"liveclass-backend/internal/httpclient"
	"liveclass-backend/internal/middleware"
	"liveclass-backend/internal/models"
	"liveclass-backend/internal/repository"
	"liveclass-backend/internal/router"
	"liveclass-backend/internal/services"
	"liveclass-backend/internal/websocket"
	"liveclass-backend/internal/worker"
	"liveclass-backend/migrations"
)

// courseRepository is what both course stores offer: the orchestrator's
// load/save contract plus the meeting lookup the direct meeting routes need.
type courseRepository interface {
	services.CourseStore
	FindByMeetingID(ctx context.Context, meetingID string) (*models.Course, error)
}

func main() {
	log.Println("🚀 Starting LiveClass Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	if err := database.RunMigrations(pool, migrations.FS); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	healthChecks := map[string]router.HealthCheck{
		"postgres": pool.Ping,
		"redis":    redisClients.Ping,
	}

	// ──── Step 4: Initialize Course Store ────
	var courseStore courseRepository
	switch cfg.StoreDriver {
	case "mongo":
		mongoClient, err := database.NewMongoClient(cfg.MongoURI, repository.MongoRegistry())
		if err != nil {
			log.Fatalf("✗ MongoDB connection failed: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())

		mongoRepo := repository.NewMongoCourseRepo(mongoClient.Database(cfg.MongoDatabase))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := mongoRepo.EnsureIndexes(ctx); err != nil {
			log.Printf("✗ MongoDB index creation failed: %v", err)
		}
		cancel()

		courseStore = mongoRepo
		healthChecks["mongo"] = func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }
		log.Printf("✓ Course store: MongoDB (%s)", cfg.MongoDatabase)
	default:
		courseStore = repository.NewCourseRepo(pool)
		log.Println("✓ Course store: PostgreSQL")
	}

	groupRepo := repository.NewGroupRepo(pool)
	notificationRepo := repository.NewNotificationRepo(pool)

	// ──── Step 5: Initialize Zoom Client ────
	zoomHTTP := httpclient.New(httpclient.WithTimeout(cfg.ZoomTimeout))
	tokenCache, err := services.NewTokenCache(services.ZoomCredentials{
		ClientID:     cfg.ZoomClientID,
		ClientSecret: cfg.ZoomClientSecret,
		AccountID:    cfg.ZoomAccountID,
	}, cfg.ZoomOAuthURL, zoomHTTP, services.WithSafetyMargin(cfg.ZoomSafetyMargin))
	if err != nil {
		log.Fatalf("✗ Zoom configuration invalid: %v", err)
	}

	zoomClient := services.NewZoomClient(zoomHTTP, tokenCache, services.ZoomClientConfig{
		BaseURL:      cfg.ZoomAPIURL,
		DefaultOwner: cfg.ZoomDefaultOwner,
		Timezone:     cfg.ZoomTimezone,
		MaxRetries:   cfg.ZoomMaxRetries,
	})
	log.Println("✓ Zoom client initialized")

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	notificationService := services.NewNotificationService(groupRepo, notificationRepo, services.NewRedisPublisher(redisClients.Queue))
	liveSessionService := services.NewLiveSessionService(courseStore, zoomClient,
		services.WithNotifier(notificationService),
		services.WithLocker(services.NewRedisLocker(redisClients.Queue, time.Minute, 5*time.Second)),
		services.WithCleanupQueue(services.NewRedisCleanupQueue(redisClients.Queue)),
		services.WithMeetingOwner(cfg.ZoomDefaultOwner),
	)

	// ──── Step 6: Start Cleanup Worker Pool ────
	workerPool := worker.NewPool(redisClients.Queue, zoomClient, cfg.CleanupWorkers, cfg.CleanupMaxAttempt)
	workerPool.Start()
	log.Printf("✓ Cleanup worker pool started (%d goroutines)", cfg.CleanupWorkers)

	// ──── Step 7: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, cfg.FrontendURL)
	log.Println("✓ WebSocket hub started")

	// ──── Step 8: Start HTTP Server ────
	r := router.New(jwtAuth, router.Handlers{
		Courses:       handlers.NewCourseHandler(courseStore),
		LiveSessions:  handlers.NewLiveSessionHandler(liveSessionService),
		Meetings:      handlers.NewMeetingHandler(zoomClient, groupRepo, courseStore, notificationService, cfg.ZoomDefaultOwner),
		Groups:        handlers.NewGroupHandler(groupRepo, zoomClient),
		Notifications: handlers.NewNotificationHandler(notificationService),
	}, wsHub, router.Options{
		FrontendURL:       cfg.FrontendURL,
		MeetingCreateRate: cfg.MeetingCreateRate,
		HealthChecks:      healthChecks,
	})

	// WriteTimeout leaves room for a create plus its compensation.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
		workerPool.Stop()
	}()

	log.Printf("✓ LiveClass Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	<-shutdownDone
}
