package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/minwoneasy/minwon-api/internal/classifier"
	"github.com/minwoneasy/minwon-api/internal/config"
	"github.com/minwoneasy/minwon-api/internal/handler"
	"github.com/minwoneasy/minwon-api/internal/repository"
	"github.com/minwoneasy/minwon-api/internal/service"
	"github.com/minwoneasy/minwon-api/internal/session"
	"github.com/minwoneasy/minwon-api/internal/utils"
	"github.com/minwoneasy/minwon-api/pkg/database"
	"github.com/minwoneasy/minwon-api/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Dependencies is everything the router needs. NewApp fills it from the
// infrastructure; tests fill it with in-process fakes.
type Dependencies struct {
	Config           *config.Config
	Logger           *zap.Logger
	Repos            *repository.Repositories
	Redis            *database.Redis
	Storage          service.ObjectStorage
	IdentityProvider service.IdentityProvider
	SessionStore     sessions.Store
	Cipher           service.Cipher
	Classifier       handler.Classifier
	Metrics          *observability.AuthMetrics
	MetricsHandler   http.Handler
	Health           *HealthChecker
}

type App struct {
	infra  Infrastructure
	config *config.Config
	router *gin.Engine
	tokens *service.TokenStore
	server *http.Server
}

func NewApp(infra Infrastructure, cfg *config.Config) (*App, error) {
	cipher, err := utils.NewTokenCipher(cfg.Token.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cipher: %w", err)
	}

	metrics, err := observability.NewAuthMetrics(infra.MeterProvider().Meter(serviceName))
	if err != nil {
		return nil, fmt.Errorf("failed to create auth metrics: %w", err)
	}

	store := session.NewRedisStore(infra.Redis().Client, cfg.Session.KeyPrefix, sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.Session.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.SecureCookies(),
		SameSite: http.SameSiteLaxMode,
	}, []byte(cfg.Session.Secret))

	router, tokens := newRouter(Dependencies{
		Config:           cfg,
		Logger:           infra.Logger(),
		Repos:            repository.NewRepositories(infra.Postgres()),
		Redis:            infra.Redis(),
		Storage:          infra.Storage(),
		IdentityProvider: infra.IdentityProvider(),
		SessionStore:     store,
		Cipher:           cipher,
		Classifier: classifier.NewClient(classifier.Config{
			ServiceURL:  cfg.Agentica.ServiceURL,
			OCRURL:      cfg.Agentica.OCRURL,
			Timeout:     cfg.Agentica.Timeout.Duration,
			MaxAttempts: cfg.Agentica.MaxAttempts,
			RetryDelay:  cfg.Agentica.RetryDelay.Duration,
			MaxOCRBytes: cfg.Agentica.MaxOCRBytes,
		}, infra.Logger()),
		Metrics:        metrics,
		MetricsHandler: infra.MetricsHandler(),
		Health: NewHealthChecker(map[string]Pinger{
			"postgres": infra.Postgres(),
			"redis":    infra.Redis(),
			"minio":    infra.Storage(),
		}),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	return &App{
		infra:  infra,
		config: cfg,
		router: router,
		tokens: tokens,
		server: srv,
	}, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func newRouter(d Dependencies) (*gin.Engine, *service.TokenStore) {
	cfg := d.Config
	logger := d.Logger

	tokens := service.NewTokenStore(d.Repos.Token, d.Cipher, cfg.Token.RefreshTTL.Duration, logger)
	revocation := service.NewTokenBlacklistService(d.Redis)
	rateLimiter := service.NewRateLimiter(d.Redis)

	manager := service.NewSessionManager(d.SessionStore, d.IdentityProvider, d.Repos.User, tokens, revocation, d.Metrics,
		service.SessionManagerConfig{
			CookieName:  cfg.Session.CookieName,
			UserInfoURL: cfg.UserInfoURL(),
		}, logger)
	resolver := service.NewResolver(manager, d.IdentityProvider, d.Repos.User, revocation, d.Metrics, cfg.UserInfoURL(), logger)

	authHandler := handler.NewAuthHandler(manager, handler.AuthHandlerConfig{
		LoggedOutURL:  cfg.LoggedOutURL(),
		HomeURL:       cfg.BaseURL + "/",
		SecureCookies: cfg.SecureCookies(),
	}, logger)
	complaintHandler := handler.NewComplaintHandler(service.NewComplaintService(d.Repos, d.Storage, logger), logger)
	catalogHandler := handler.NewCatalogHandler(service.NewCatalogService(d.Repos), logger)
	fileHandler := handler.NewFileHandler(service.NewFileService(d.Repos, d.Storage, logger), logger)
	agenticaHandler := handler.NewAgenticaHandler(d.Classifier, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(handler.LoggerMiddleware(logger))
	router.Use(handler.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders))

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Welcome to the Minwoneasy!"})
	})
	if d.MetricsHandler != nil {
		router.GET("/metrics", observability.PrometheusHandler(d.MetricsHandler))
	}
	if d.Health != nil {
		router.GET("/health", d.Health.Handler)
	}

	limited := handler.RateLimitMiddleware(rateLimiter, cfg.Security.RateLimitRequests, cfg.Security.RateLimitWindow.Duration, handler.RouteAndIPKey, logger)
	currentUser := handler.CurrentUser(resolver, config.APIPrefix+"/login")

	api := router.Group(config.APIPrefix)
	{
		api.GET("/login", limited, authHandler.Login)
		api.GET("/callback", limited, authHandler.Callback)
		api.GET("/logout", authHandler.Logout)
		api.GET("/logged-out", authHandler.LoggedOut)
		api.GET("/session-debug", authHandler.SessionDebug)

		authed := api.Group("", currentUser)
		{
			authed.GET("/userinfo", authHandler.UserInfo)
			authed.GET("/auth/token", authHandler.Token)

			complaints := authed.Group("/complaints")
			complaints.POST("/create", complaintHandler.Create)
			complaints.GET("/list", complaintHandler.List)
			complaints.GET("/:id", complaintHandler.Get)
			complaints.PUT("/:id", complaintHandler.Update)
			complaints.DELETE("/:id", complaintHandler.Delete)

			authed.GET("/categories", catalogHandler.Categories)
			authed.GET("/departments", catalogHandler.Departments)
			authed.GET("/departments/:id", catalogHandler.Department)

			files := authed.Group("/files")
			files.POST("/upload", fileHandler.Upload)
			files.GET("/:id", fileHandler.Get)
			files.GET("/:id/download", fileHandler.Download)
		}

		agentica := api.Group("/agentica")
		agentica.POST("/process-complaint", agenticaHandler.ProcessComplaint)
		agentica.POST("/transform-text", agenticaHandler.TransformText)
		agentica.POST("/classify-department", agenticaHandler.ClassifyDepartment)
		agentica.POST("/process-text-only", agenticaHandler.ProcessTextOnly)
	}

	return router, tokens
}

func (a *App) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		a.infra.Logger().Info("Application starting",
			zap.String("host", a.config.Server.Host),
			zap.String("port", a.config.Server.Port),
		)

		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.infra.Logger().Error("Server error", zap.Error(err))
			errChan <- err
		}
	}()

	purgeCtx, stopPurge := context.WithCancel(ctx)
	defer stopPurge()
	go a.purgeExpiredTokens(purgeCtx, a.config.Token.PurgeInterval.Duration)

	var serverErr error
	select {
	case err := <-errChan:
		a.infra.Logger().Error("Application failed to start", zap.Error(err))
		serverErr = err
	case <-ctx.Done():
		a.infra.Logger().Info("Application stopped by context")
	}
	stopPurge()

	if err := a.Shutdown(); err != nil {
		a.infra.Logger().Error("Shutdown error", zap.Error(err))
		if serverErr != nil {
			return errors.Join(serverErr, err)
		}
		return err
	}

	return serverErr
}

// purgeExpiredTokens deletes expired refresh tokens every interval
func (a *App) purgeExpiredTokens(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.tokens.PurgeExpired(ctx)
			if err != nil {
				a.infra.Logger().Warn("Failed to purge expired refresh tokens", zap.Error(err))
				continue
			}
			if n > 0 {
				a.infra.Logger().Info("Purged expired refresh tokens", zap.Int64("count", n))
			}
		}
	}
}

func (a *App) Shutdown() error {
	a.infra.Logger().Info("Application shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	errs := make(chan error, 2)

	go func() {
		errs <- a.server.Shutdown(ctx)
	}()

	go func() {
		errs <- a.infra.Shutdown(ctx)
	}()

	err := errors.Join(<-errs, <-errs)
	if err != nil {
		a.infra.Logger().Error("Shutdown failed", zap.Error(err))
		return err
	}

	a.infra.Logger().Info("Application exited successfully")
	return nil
}
