package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"nextcompete-api/config"
	"nextcompete-api/controllers"
	"nextcompete-api/middleware"
	"nextcompete-api/models"
	"nextcompete-api/routes"
	"nextcompete-api/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	settings := config.LoadSettings()

	logFile, logWriter := config.InitLogging(settings.IsRelease())
	if logFile != nil {
		defer logFile.Close()
	}
	if settings.JWTSecret == "" {
		config.Log.Fatal("JWT_SECRET is required")
	}

	config.InitDB(settings)
	if err := models.AutoMigrate(config.DB); err != nil {
		config.Log.WithError(err).Fatal("database migration failed")
	}
	config.RegisterValidators()

	store, err := services.NewObjectStore(settings)
	if err != nil {
		config.Log.WithError(err).Fatal("storage init failed")
	}

	var mailer services.Mailer
	if mail := config.LoadMailSettings(); mail.Enabled() {
		mailer = services.SMTPMailer{Settings: mail}
	}

	rounds := services.NewRoundCache(config.DB, settings.RoundCacheTTL)
	notifier := services.NewNotificationService(config.DB, mailer)
	users := services.NewUserService(config.DB)
	assets := services.NewAssetService(config.DB, store, settings)
	handlers := &controllers.Handlers{
		Competitions:  services.NewCompetitionService(config.DB, rounds, notifier),
		Submissions:   services.NewSubmissionService(config.DB, rounds, notifier),
		Evaluations:   services.NewEvaluationService(config.DB, rounds, notifier),
		Progression:   services.NewProgressionService(config.DB, rounds),
		Assets:        assets,
		Notifications: notifier,
		Messages:      services.NewMessageService(config.DB, notifier),
	}

	// Set Gin mode
	if settings.IsRelease() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.LoggerWithWriter(logWriter))
	router.Use(gin.RecoveryWithWriter(logWriter))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(settings.CORSAllowedOrigins))
	if settings.StorageDriver == "local" || settings.StorageDriver == "" {
		router.Static("/uploads", settings.UploadPath)
	}

	routes.SetupRoutes(router, handlers, middleware.AuthMiddleware(settings.JWTSecret, users.Sync))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go assets.RunReconciler(ctx, settings.CleanupInterval, 50)

	config.Log.WithField("port", settings.ServerPort).
		WithField("mode", gin.Mode()).
		WithField("storage", settings.StorageDriver).
		Info("server starting")

	srv := &http.Server{Addr: ":" + settings.ServerPort, Handler: router}
	if err := serve(ctx, srv, shutdownTimeout); err != nil {
		config.Log.WithError(err).Fatal("server stopped with error")
	}
	config.Log.Info("server stopped")
}

// serve runs srv until ctx is cancelled, then drains in-flight requests for at most timeout.
// It returns early with the listen error if the server cannot start.
func serve(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	config.Log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
