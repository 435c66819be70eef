package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/product-options/internal/di"
	"github.com/hanko-field/product-options/internal/handlers"
	"github.com/hanko-field/product-options/internal/platform/auth"
	"github.com/hanko-field/product-options/internal/platform/config"
	"github.com/hanko-field/product-options/internal/platform/observability"
	"github.com/hanko-field/product-options/internal/platform/secrets"
	"github.com/hanko-field/product-options/internal/repositories"
	"github.com/hanko-field/product-options/internal/services"
)

const meterName = "github.com/hanko-field/product-options/cmd/api"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	meter := otel.GetMeterProvider().Meter(meterName)

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(logger),
		di.WithMeter(meter),
		di.WithBuildInfo(buildInfo),
		di.WithDependencyChecks(secretManagerCheck(fetcher)),
	)
	if err != nil {
		logger.Fatal("failed to initialise container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	authLogger := logger.Named("auth")
	var recorder auth.MetricsRecorder
	if r, err := auth.NewOTelMetricsRecorder(meter); err != nil {
		authLogger.Warn("auth metrics disabled", zap.Error(err))
	} else {
		recorder = r
	}

	var authenticator *auth.Authenticator
	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		if cfg.Security.Environment != "local" {
			logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
		}
		authLogger.Warn("firebase verifier unavailable; authenticated routes answer 501", zap.Error(err))
	} else {
		authenticator = auth.NewAuthenticator(firebaseVerifier)
	}

	svc := container.Services
	productHandlers := handlers.NewProductHandlers(
		handlers.WithProductAuthenticator(authenticator),
		handlers.WithProductCatalogService(svc.Catalog),
		handlers.WithProductSelectionService(svc.Selection),
		handlers.WithProductLocalizer(container.Localizer),
	)

	var opts []handlers.Option
	opts = append(opts, handlers.WithMiddlewares(
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(traceProjectID(cfg)),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(traceProjectID(cfg)),
	))
	opts = append(opts, handlers.WithHealthHandlers(handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)))
	opts = append(opts, handlers.WithPublicRoutes(productHandlers.Routes))
	if authenticator != nil {
		opts = append(opts, handlers.WithCartRoutes(handlers.NewCartHandlers(authenticator, svc.Cart, container.Localizer).Routes))
		opts = append(opts, handlers.WithOrderRoutes(handlers.NewOrderHandlers(authenticator, svc.Orders, container.Localizer).Routes))
		opts = append(opts, handlers.WithAdminRoutes(handlers.NewAdminOptionHandlers(authenticator, svc.Catalog).Routes))
	}
	if hmacMiddleware := buildHMACMiddleware(authLogger, recorder, cfg); hmacMiddleware != nil {
		opts = append(opts, handlers.WithWebhookMiddlewares(hmacMiddleware))
		opts = append(opts, handlers.WithWebhookRoutes(handlers.NewOrderWebhookHandlers(svc.Orders).Routes))
	} else {
		authLogger.Warn("order webhook disabled: no signing secret", zap.String("secret", handlers.OrderWebhookSecretName))
	}
	if oidcMiddleware := buildOIDCMiddleware(authLogger, recorder, cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
		opts = append(opts, handlers.WithInternalRoutes(handlers.NewInternalOrderHandlers(svc.Orders).Routes))
	}

	router := handlers.NewRouter(opts...)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("product options api listening", zap.String("storage", cfg.Storage.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	const secretHealthReference = "secret://system/healthz?version=latest"
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil {
				return nil
			}
			if status.Code(errors.Unwrap(err)) == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func buildOIDCMiddleware(logger *zap.Logger, recorder auth.MetricsRecorder, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	opts := []auth.OIDCOption{auth.WithOIDCLogger(observability.NewPrintfAdapter(logger))}
	if recorder != nil {
		opts = append(opts, auth.WithOIDCMetrics(recorder))
	}
	validator := auth.NewOIDCValidator(auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL), opts...)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func buildHMACMiddleware(logger *zap.Logger, recorder auth.MetricsRecorder, cfg config.Config) func(http.Handler) http.Handler {
	secretsByName := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		if strings.TrimSpace(value) == "" {
			continue
		}
		secretsByName[strings.ToLower(strings.TrimSpace(key))] = value
	}
	if _, ok := secretsByName[handlers.OrderWebhookSecretName]; !ok {
		return nil
	}

	provider := auth.SecretProviderFunc(func(_ context.Context, name string) (string, error) {
		if secret, ok := secretsByName[strings.ToLower(strings.TrimSpace(name))]; ok {
			return secret, nil
		}
		return "", errors.New("auth: secret not found")
	})
	opts := []auth.HMACOption{
		auth.WithHMACLogger(observability.NewPrintfAdapter(logger)),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithHMACNonceTTL(cfg.Security.HMAC.NonceTTL),
	}
	if recorder != nil {
		opts = append(opts, auth.WithHMACMetrics(recorder))
	}
	validator := auth.NewHMACValidator(provider, auth.NewInMemoryNonceStore(), opts...)
	return validator.RequireHMAC(handlers.OrderWebhookSecretName)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projects := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(projects))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the HMAC secrets that must resolve before the server starts.
func requiredSecretNames(env map[string]string) []string {
	values := parseKeyValueList(env["API_SECURITY_HMAC_SECRETS"])
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, strings.ToLower(key))
	}
	sort.Strings(keys)

	required := make([]string, 0, len(keys))
	for _, key := range keys {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}
	return required
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
