package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/cmsadmin/internal/account"
	"github.com/tyemirov/cmsadmin/internal/session"
	"github.com/tyemirov/cmsadmin/internal/sessionpg"
	"github.com/tyemirov/cmsadmin/internal/web"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "cmsadmin",
		Short:   "Admin front-end with session-backed authentication against a headless CMS",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("cms_base_url", "", "Base URL of the upstream CMS API")
	rootCmd.Flags().Duration("request_timeout", 30*time.Second, "Per-request timeout for upstream CMS calls")
	rootCmd.Flags().String("session_signing_key", "", "HS256 signing secret for the session cookie")
	rootCmd.Flags().Duration("session_ttl", 12*time.Hour, "Session cookie lifetime")
	rootCmd.Flags().Duration("session_idle_ttl", 24*time.Hour, "Idle lifetime of server-side session state")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().String("database_url", "", "Database URL for session state (postgres:// or sqlite://; leave empty for in-memory store)")
	rootCmd.Flags().Bool("pgx_session_store", false, "Use the raw pgx session store instead of the gorm one (postgres database URLs only)")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")

	_ = viper.BindPFlag("listen_addr", rootCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("cms_base_url", rootCmd.Flags().Lookup("cms_base_url"))
	_ = viper.BindPFlag("request_timeout", rootCmd.Flags().Lookup("request_timeout"))
	_ = viper.BindPFlag("session_signing_key", rootCmd.Flags().Lookup("session_signing_key"))
	_ = viper.BindPFlag("session_ttl", rootCmd.Flags().Lookup("session_ttl"))
	_ = viper.BindPFlag("session_idle_ttl", rootCmd.Flags().Lookup("session_idle_ttl"))
	_ = viper.BindPFlag("cookie_domain", rootCmd.Flags().Lookup("cookie_domain"))
	_ = viper.BindPFlag("database_url", rootCmd.Flags().Lookup("database_url"))
	_ = viper.BindPFlag("pgx_session_store", rootCmd.Flags().Lookup("pgx_session_store"))
	_ = viper.BindPFlag("dev_insecure_http", rootCmd.Flags().Lookup("dev_insecure_http"))
	_ = viper.BindPFlag("enable_cors", rootCmd.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", rootCmd.Flags().Lookup("cors_allowed_origins"))

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	sessionCookieName = "cmsadmin_session"

	configCodeMissingCMSBaseURL       = "config.missing_cms_base_url"
	configCodeMissingSigningKey       = "config.missing_session_signing_key"
	configCodeInvalidSessionTTL       = "config.invalid_session_ttl"
	configCodeInvalidRequestTimeout   = "config.invalid_request_timeout"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func LoadServerConfig() (web.Config, error) {
	cmsBaseURL := viper.GetString("cms_base_url")
	if cmsBaseURL == "" {
		return web.Config{}, configError(configCodeMissingCMSBaseURL, "cms_base_url must be provided")
	}

	sessionSigningKey := viper.GetString("session_signing_key")
	if sessionSigningKey == "" {
		return web.Config{}, configError(configCodeMissingSigningKey, "session_signing_key must be provided")
	}

	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return web.Config{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}

	requestTimeout := viper.GetDuration("request_timeout")
	if requestTimeout <= 0 {
		return web.Config{}, configError(configCodeInvalidRequestTimeout, "request_timeout must be greater than zero")
	}

	return web.Config{
		CMSBaseURL:        cmsBaseURL,
		RequestTimeout:    requestTimeout,
		SessionCookieName: sessionCookieName,
		CookieDomain:      viper.GetString("cookie_domain"),
		SessionSigningKey: []byte(sessionSigningKey),
		SessionTTL:        sessionTTL,
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(web.Config)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	databaseURL := viper.GetString("database_url")
	sessionIdleTTL := viper.GetDuration("session_idle_ttl")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	serverConfig.AllowInsecureHTTP = viper.GetBool("dev_insecure_http")
	serverConfig.SameSiteMode = http.SameSiteStrictMode
	if enableCORS {
		serverConfig.SameSiteMode = http.SameSiteNoneMode
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	var sessions session.Store
	if databaseURL != "" && viper.GetBool("pgx_session_store") {
		pool, poolErr := sessionpg.BuildPool(context.Background(), databaseURL)
		if poolErr != nil {
			return poolErr
		}
		defer pool.Close()
		if schemaErr := sessionpg.EnsureSchema(context.Background(), pool); schemaErr != nil {
			return schemaErr
		}
		sessions = sessionpg.NewStore(pool, sessionIdleTTL)
		logger.Info("using pgx session store")
	} else if databaseURL != "" {
		persistentStore, storeErr := session.NewDatabaseStore(context.Background(), databaseURL, sessionIdleTTL)
		if storeErr != nil {
			return storeErr
		}
		sessions = persistentStore
		logger.Info("using persistent session store", zap.String("driver", persistentStore.Driver()))
	} else {
		sessions = session.NewMemoryStore(sessionIdleTTL)
		logger.Info("using in-memory session store")
	}

	metricsRecorder := account.NewCounterMetrics()

	handler := web.NewHandler(serverConfig, sessions, &http.Client{}, session.NewSystemClock(), metricsRecorder, logger)
	handler.MountRoutes(router)

	router.GET("/healthz", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metricz", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, metricsRecorder.Snapshot())
	})

	router.GET("/", func(contextGin *gin.Context) {
		contextGin.Redirect(http.StatusSeeOther, "/dashboard")
	})

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
