// Command netsbox runs the NetsBox control-plane server: the HTTP/WebSocket
// API, the realtime overlay, and the background maintenance workers
// described in spec.md.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/netsbox/control-plane/internal/api"
	"github.com/netsbox/control-plane/internal/apierrors"
	"github.com/netsbox/control-plane/internal/auth"
	"github.com/netsbox/control-plane/internal/blob"
	"github.com/netsbox/control-plane/internal/bootstrap"
	"github.com/netsbox/control-plane/internal/cache"
	"github.com/netsbox/control-plane/internal/config"
	"github.com/netsbox/control-plane/internal/email"
	"github.com/netsbox/control-plane/internal/eventbus"
	"github.com/netsbox/control-plane/internal/group"
	"github.com/netsbox/control-plane/internal/httputil"
	"github.com/netsbox/control-plane/internal/library"
	"github.com/netsbox/control-plane/internal/media"
	"github.com/netsbox/control-plane/internal/postgres"
	"github.com/netsbox/control-plane/internal/project"
	"github.com/netsbox/control-plane/internal/ratelimit"
	"github.com/netsbox/control-plane/internal/resolver"
	"github.com/netsbox/control-plane/internal/router"
	"github.com/netsbox/control-plane/internal/security"
	"github.com/netsbox/control-plane/internal/servicehost"
	"github.com/netsbox/control-plane/internal/social"
	"github.com/netsbox/control-plane/internal/topology"
	"github.com/netsbox/control-plane/internal/user"
	"github.com/netsbox/control-plane/internal/valkey"
	"github.com/netsbox/control-plane/internal/witness"
	"github.com/netsbox/control-plane/internal/worker"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// server holds the shared dependencies route registration needs.
type server struct {
	cfg *config.Config
	db  *pgxpool.Pool
	rdb *redis.Client

	userRepo      user.Repository
	groupRepo     group.Repository
	projectRepo   project.Repository
	socialRepo    social.Repository
	libraryRepo   library.Repository
	hostRepo      servicehost.Repository
	hostMgr       *servicehost.Manager
	traceStore    router.TraceStore
	lifecycle     *project.Lifecycle
	roleFetcher   *project.RoleFetcher
	topo          *topology.Topology
	rtr           *router.Router
	authService   *auth.Service
	authMW        *auth.Middleware
	minter        *witness.Minter
	libraryMgr    *library.Manager
	limiter       *ratelimit.Limiter
	storage       blob.StorageProvider
}

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	tomlPath := os.Getenv("NETSBOX_CONFIG")
	if tomlPath == "" {
		tomlPath = "config.toml"
	}
	cfg, err := config.Load(tomlPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.ServerEnv).
		Msg("Starting NetsBox control plane")

	if len(cfg.CORSAllowOrigins) == 1 && cfg.CORSAllowOrigins[0] == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard. Set an explicit origin when in production.")
	}

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	rdb, err := valkey.Connect(ctx, cfg.ValkeyURL, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Valkey connected")

	firstRun, err := bootstrap.IsFirstRun(ctx, db)
	if err != nil {
		return fmt.Errorf("check first run: %w", err)
	}
	if firstRun {
		log.Info().Msg("First run detected, running initialization")
		if err := bootstrap.RunFirstInit(ctx, db, cfg, log.Logger); err != nil {
			return fmt.Errorf("first-run initialization: %w", err)
		}
		log.Info().Msg("First-run initialization complete")
	}

	// Disposable-email blocklist, prefetched synchronously so the cache is
	// warm before the server accepts registrations, then refreshed in the
	// background so newly listed domains are picked up without a restart.
	blocklist := security.NewEmailBlocklist(cfg.DisposableEmailBlocklistURL, cfg.DisposableEmailBlocklistEnabled, log.Logger)
	blocklist.Prefetch(ctx)

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()

	go blocklist.Run(subCtx, time.Hour)

	var storage blob.StorageProvider
	if cfg.S3Bucket != "" {
		storage, err = blob.NewS3Storage(ctx, blob.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Key:       cfg.S3Key,
			Secret:    cfg.S3Secret,
			URLPrefix: cfg.BlobBaseURL,
		})
		if err != nil {
			return fmt.Errorf("init s3 storage: %w", err)
		}
		log.Info().Str("bucket", cfg.S3Bucket).Msg("S3 blob storage initialised")
	} else {
		storage = blob.NewLocalStorage(cfg.BlobBasePath, cfg.BlobBaseURL)
		log.Info().Str("path", cfg.BlobBasePath).Msg("Local blob storage initialised")
	}

	var hashIdentifier func(string) string
	if cfg.IdentifierHMACKey != "" {
		hmacKey := cfg.IdentifierHMACKey
		hashIdentifier = func(s string) string {
			digest, err := auth.HMACIdentifier(s, hmacKey)
			if err != nil {
				log.Warn().Err(err).Msg("tombstone HMAC key is invalid, falling back to plaintext identifier")
				return s
			}
			return digest
		}
	}
	userRepo := user.NewPGRepository(db, hashIdentifier, log.Logger)
	groupRepo := group.NewPGRepository(db, log.Logger)
	projectRepo := project.NewPGRepository(db, log.Logger)
	socialRepo := social.NewPGRepository(db, log.Logger)
	libraryRepo := library.NewPGRepository(db, log.Logger)
	hostRepo := servicehost.NewPGRepository(db, log.Logger)
	traceStore := router.NewPGTraceStore(db, log.Logger)

	groupAccess := group.NewAccess(userRepo)
	libraryMgr := library.NewManager(libraryRepo, storage)

	// Event bus: publishes project.renamed/project.deleted/room.state_changed
	// for external subscribers (service-host webhooks, netsboxctl's
	// "network watch"). Errors are logged and swallowed at the publish
	// site, so a broker outage never blocks the synchronous path that
	// triggered the event.
	pub, sub, err := eventbus.NewPubSub(cfg.EventBusType, cfg.EventBusURL)
	if err != nil {
		return fmt.Errorf("init event bus: %w", err)
	}
	bus := eventbus.New(pub, sub, log.Logger)
	defer func() { _ = bus.Close() }()

	var lifecycle *project.Lifecycle
	topo := topology.New(lifecycleObserver{&lifecycle}, log.Logger)
	topo.SetSessionStore(topology.NewSessionStore(rdb, cfg.SessionResumeTTL, cfg.SessionResumeMaxReplay))
	lifecycle = project.NewLifecycle(projectRepo, topo, storage, log.Logger)
	lifecycle.SetEventBus(bus)
	lifecycle.SetThumbnailEnqueuer(media.NewStreamEnqueuer(rdb))
	roleFetcher := project.NewRoleFetcher()

	thumbWorker := media.NewThumbnailWorker(rdb, storage, projectRepo, log.Logger)
	go runWithBackoff(subCtx, "media-thumbnail-worker", thumbWorker.Run)

	l1Cap := 10000
	resolverCache := cache.New(rdb, l1Cap, cfg.InactivityTimeout, log.Logger)
	go runWithBackoff(subCtx, "cache-invalidation-subscriber", resolverCache.Start)

	res := resolver.New(topo, lifecycle, groupAccess, resolverCache, log.Logger)
	rtr := router.New(topo, res, lifecycle, groupAccess, roleFetcher, traceStore, log.Logger)

	minter := witness.NewMinter(projectRepo, groupRepo, userRepo, log.Logger)

	var emailSender auth.DisposableEmailChecker = blocklist

	var mailer auth.EmailSender
	if cfg.SMTPConfigured() {
		emailClient := email.NewClient(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom)
		if err := emailClient.Ping(); err != nil {
			log.Warn().Err(err).Msg("SMTP connection test failed. Verification emails may not be delivered.")
		} else {
			log.Info().Str("host", cfg.SMTPHost).Int("port", cfg.SMTPPort).Msg("SMTP connection verified")
		}
		mailer = emailClient
	} else {
		log.Warn().Msg("SMTP_HOST is not configured. Email delivery is disabled.")
	}

	authService := auth.NewService(userRepo, emailSender, auth.PasswordParams{
		Memory:      cfg.Argon2Memory,
		Iterations:  cfg.Argon2Iterations,
		Parallelism: cfg.Argon2Parallelism,
		SaltLength:  cfg.Argon2SaltLength,
		KeyLength:   cfg.Argon2KeyLength,
	}, cfg.SessionSecret, cfg.ServerURL, cfg.SessionMaxAge, rdb, cfg.MFAEncryptionKey, cfg.MFATicketTTL, mailer, cfg.ServerName, cfg.EmailVerificationTTL, cfg.PasswordResetTTL, log.Logger)

	authMW := auth.NewMiddleware(cfg.SessionSecret, cfg.ServerURL, userRepo)

	limiterMW, err := ratelimit.New(rdb, cfg.RateLimitAPIRequests, time.Duration(cfg.RateLimitAPIWindowSeconds)*time.Second,
		cfg.RateLimitAuthCount, time.Duration(cfg.RateLimitAuthWindowSeconds)*time.Second, log.Logger)
	if err != nil {
		return fmt.Errorf("init rate limiter: %w", err)
	}

	w := worker.New(worker.Config{}, projectRepo, lifecycle, storage, traceStore, socialRepo, log.Logger)
	go runWithBackoff(subCtx, "worker", w.Run)

	hostMgr := servicehost.NewManager(hostRepo, auth.PasswordParams{
		Memory:      cfg.Argon2Memory,
		Iterations:  cfg.Argon2Iterations,
		Parallelism: cfg.Argon2Parallelism,
		SaltLength:  cfg.Argon2SaltLength,
		KeyLength:   cfg.Argon2KeyLength,
	})
	if cfg.MFAConfigured() {
		hostMgr.EnableMFA(cfg.MFAEncryptionKey)
	} else {
		log.Warn().Msg("MFA_ENCRYPTION_KEY is not configured. Service-host secret rotation will not be MFA-gated.")
	}

	hostCaller := servicehost.NewCaller(nil, log.Logger)
	webhooks := servicehost.NewWebhookDispatcher(hostRepo, hostCaller, log.Logger)
	go runWithBackoff(subCtx, "servicehost-webhook-dispatcher", func(ctx context.Context) error {
		return webhooks.Run(ctx, bus)
	})

	app := fiber.New(fiber.Config{
		AppName:   "NetsBox",
		BodyLimit: cfg.BodyLimitBytes(),
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			apiCode := apierrors.Internal
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
				message = fe.Message
				apiCode = fiberStatusToAPICode(fe.Code)
			} else {
				log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("Unhandled error")
			}
			return httputil.Fail(c, status, apiCode, message)
		},
	})

	app.Use(requestid.New())
	app.Use(func(c fiber.Ctx) error {
		if strings.HasPrefix(c.Path(), "/api/v1/health") {
			return c.Next()
		}
		return httputil.RequestLogger(log.Logger)(c)
	})
	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.CORSAllowOrigins,
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))
	app.Use(limiterMW.API())

	srv := &server{
		cfg:         cfg,
		db:          db,
		rdb:         rdb,
		userRepo:    userRepo,
		groupRepo:   groupRepo,
		projectRepo: projectRepo,
		socialRepo:  socialRepo,
		libraryRepo: libraryRepo,
		hostRepo:    hostRepo,
		hostMgr:     hostMgr,
		traceStore:  traceStore,
		lifecycle:   lifecycle,
		roleFetcher: roleFetcher,
		topo:        topo,
		rtr:         rtr,
		authService: authService,
		authMW:      authMW,
		minter:      minter,
		libraryMgr:  libraryMgr,
		limiter:     limiterMW,
		storage:     storage,
	}
	srv.registerRoutes(app)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		subCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	log.Debug().
		Uint64("alloc_mb", mem.Alloc/1024/1024).
		Uint64("sys_mb", mem.Sys/1024/1024).
		Msg("Runtime memory stats")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// lifecycleObserver forwards topology.RoomObserver calls to a *project.Lifecycle
// constructed after the Topology it observes, breaking the otherwise
// circular construction order (Topology needs an observer; Lifecycle needs
// the Topology).
type lifecycleObserver struct {
	target **project.Lifecycle
}

func (o lifecycleObserver) OnRoomEmptied(ctx context.Context, projectID string, reason topology.DisconnectReason) {
	if *o.target != nil {
		(*o.target).OnRoomEmptied(ctx, projectID, reason)
	}
}

func (o lifecycleObserver) OnRoomOccupied(ctx context.Context, projectID string) {
	if *o.target != nil {
		(*o.target).OnRoomOccupied(ctx, projectID)
	}
}

func (s *server) registerRoutes(app *fiber.App) {
	health := api.NewHealthHandler(s.db, s.rdb)
	app.Get("/api/v1/health", health.Health)

	configHandler := api.NewConfigurationHandler(s.hostRepo, log.Logger)
	app.Get("/api/v1/configuration", configHandler.Get)

	userHandler := api.NewUserHandler(s.userRepo, s.authService, s.minter, s.topo, log.Logger)
	authGroup := app.Group("/api/v1/users")
	authGroup.Post("/create", s.limiter.Auth(), userHandler.Create)
	authGroup.Post("/login", s.limiter.Auth(), userHandler.Login)
	authGroup.Post("/login/mfa", s.limiter.Auth(), userHandler.VerifyMFALogin)
	authGroup.Post("/logout", userHandler.Logout)
	authGroup.Get("/:name", userHandler.Get)
	authGroup.Post("/:name/password", s.limiter.Auth(), s.authMW.Required, userHandler.ResetPassword)
	authGroup.Post("/password/forgot", s.limiter.Auth(), userHandler.RequestPasswordReset)
	authGroup.Post("/password/reset", s.limiter.Auth(), userHandler.ResetPasswordWithToken)
	authGroup.Post("/verify-email", s.limiter.Auth(), userHandler.VerifyEmail)
	authGroup.Post("/:name/ban", s.authMW.Required, userHandler.Ban)
	authGroup.Post("/:name/unban", s.authMW.Required, userHandler.Unban)
	authGroup.Post("/:name/link", s.authMW.Required, userHandler.Link)
	authGroup.Delete("/:name/link/:strategy/:id", s.authMW.Required, userHandler.Unlink)
	authGroup.Post("/:name/mfa/enroll", s.authMW.Required, userHandler.BeginMFAEnrollment)
	authGroup.Post("/:name/mfa/confirm", s.authMW.Required, userHandler.ConfirmMFAEnrollment)
	authGroup.Post("/:name/mfa/disable", s.authMW.Required, userHandler.DisableMFA)

	groupHandler := api.NewGroupHandler(s.groupRepo, s.minter, log.Logger)
	groupGroup := app.Group("/api/v1/groups", s.authMW.Required)
	groupGroup.Post("/", groupHandler.Create)
	groupGroup.Get("/", groupHandler.List)
	groupGroup.Get("/:id", groupHandler.Get)
	groupGroup.Patch("/:id", groupHandler.Update)
	groupGroup.Delete("/:id", groupHandler.Delete)
	groupGroup.Get("/:id/members", groupHandler.Members)

	projectHandler := api.NewProjectHandler(s.lifecycle, s.projectRepo, s.roleFetcher, s.socialRepo, s.minter, log.Logger)
	app.Post("/api/v1/projects", s.authMW.Required, projectHandler.Create)
	app.Get("/api/v1/projects/id/:id", s.authMW.Optional, projectHandler.GetByID)
	app.Get("/api/v1/projects/user/:owner", s.authMW.Optional, projectHandler.ListByOwner)
	app.Get("/api/v1/projects/shared/:user", s.authMW.Required, projectHandler.ListShared)
	app.Patch("/api/v1/projects/id/:id", s.authMW.Required, projectHandler.Update)
	app.Delete("/api/v1/projects/id/:id", s.authMW.Required, projectHandler.Delete)
	app.Get("/api/v1/projects/id/:id/latest", s.authMW.Optional, projectHandler.Latest)
	app.Get("/api/v1/projects/id/:id/:role_id/latest", s.authMW.Optional, projectHandler.RoleLatest)
	app.Post("/api/v1/projects/id/:id/collaborators/invite/:user", s.authMW.Required, projectHandler.InviteCollaborator)
	app.Get("/api/v1/projects/id/:id/collaborators", s.authMW.Optional, projectHandler.Collaborators)
	app.Delete("/api/v1/projects/id/:id/collaborators/:user", s.authMW.Required, projectHandler.RemoveCollaborator)

	friendHandler := api.NewFriendHandler(s.socialRepo, s.topo, log.Logger)
	friendGroup := app.Group("/api/v1/friends", s.authMW.Required)
	friendGroup.Post("/:user/invite/:other", friendHandler.Invite)
	friendGroup.Post("/:user/respond/:inviter", friendHandler.Respond)
	friendGroup.Delete("/:user/:other", friendHandler.Remove)
	friendGroup.Post("/:user/block/:other", friendHandler.Block)
	friendGroup.Get("/:user", friendHandler.List)
	friendGroup.Get("/:user/online", friendHandler.Online)

	libraryHandler := api.NewLibraryHandler(s.libraryMgr, s.libraryRepo, s.minter, log.Logger)
	app.Get("/api/v1/libraries/community", libraryHandler.Community)
	app.Get("/api/v1/libraries/user/:user", libraryHandler.ListByOwner)
	app.Post("/api/v1/libraries/user/:user/:name", s.authMW.Required, libraryHandler.Publish)
	app.Delete("/api/v1/libraries/user/:user/:name", s.authMW.Required, libraryHandler.Delete)
	app.Post("/api/v1/libraries/user/:user/:name/publish", s.authMW.Required, libraryHandler.Resubmit)
	app.Post("/api/v1/libraries/community/:owner/:name/approve", s.authMW.Required, libraryHandler.Approve)

	serviceHandler := api.NewServiceHostHandler(s.hostRepo, s.hostMgr, s.minter, log.Logger)
	serviceGroup := app.Group("/api/v1/services", s.authMW.Required)
	serviceGroup.Get("/hosts", serviceHandler.ListHosts)
	serviceGroup.Post("/hosts", serviceHandler.RegisterHost)
	serviceGroup.Post("/hosts/:id/rotate-secret", serviceHandler.RotateSecret)
	serviceGroup.Post("/hosts/:id/mfa/enroll", serviceHandler.EnrollMFA)
	serviceGroup.Delete("/hosts/:id", serviceHandler.DeleteHost)
	serviceGroup.Get("/hosts/user/:user", serviceHandler.ListForUser)
	serviceGroup.Post("/hosts/user/:user", serviceHandler.SetForUser)
	serviceGroup.Delete("/hosts/user/:user", serviceHandler.DeleteForUser)
	serviceGroup.Get("/hosts/group/:id", serviceHandler.ListForGroup)
	serviceGroup.Post("/hosts/group/:id", serviceHandler.SetForGroup)
	serviceGroup.Delete("/hosts/group/:id", serviceHandler.DeleteForGroup)
	serviceGroup.Post("/settings/user/:user/:host", serviceHandler.SetSingle)

	networkHandler := api.NewNetworkHandler(s.topo, s.rtr, s.traceStore, s.projectRepo, s.socialRepo, s.minter, log.Logger)
	app.Get("/api/v1/network", s.authMW.Required, networkHandler.ListExternal)
	app.Get("/api/v1/network/id/:id", s.authMW.Optional, networkHandler.RoomState)
	app.Post("/api/v1/network/id/:id/occupants/invite", s.authMW.Required, networkHandler.InviteOccupant)
	app.Post("/api/v1/network/clients/:client_id/evict", s.authMW.Required, networkHandler.Evict)
	app.Post("/api/v1/network/id/:id/trace", s.authMW.Required, networkHandler.StartTrace)
	app.Get("/api/v1/network/id/:id/trace/:trace_id", s.authMW.Required, networkHandler.GetTrace)
	app.Delete("/api/v1/network/id/:id/trace/:trace_id", s.authMW.Required, networkHandler.DeleteTrace)
	app.Get("/network/:client_id/connect", networkHandler.Connect)

	if _, ok := s.storage.(*blob.LocalStorage); ok {
		app.Get("/blobs/*", func(c fiber.Ctx) error {
			key := c.Params("*")
			if key == "" || strings.Contains(key, "..") {
				return fiber.ErrNotFound
			}
			rc, err := s.storage.Get(c.Context(), key)
			if err != nil {
				return fiber.ErrNotFound
			}
			defer func() { _ = rc.Close() }()
			c.Set("Cache-Control", "public, max-age=31536000, immutable")
			return c.SendStream(rc)
		})
	}

	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}

// runWithBackoff runs fn in a loop, restarting with exponential backoff
// when it returns a non-nil, non-cancelled error. A nil return or
// context.Canceled exits the loop without restarting.
func runWithBackoff(ctx context.Context, name string, fn func(context.Context) error) {
	const (
		initialDelay = time.Second
		maxDelay     = 2 * time.Minute
	)
	delay := initialDelay
	for {
		if err := fn(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Str("service", name).Dur("retry_in", delay).
				Msg("Background service stopped, restarting after delay")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxDelay)
			continue
		}
		return
	}
}

// fiberStatusToAPICode maps an HTTP status code from Fiber's built-in
// errors (404, 405, etc.) to the closest apierrors.Code.
func fiberStatusToAPICode(status int) apierrors.Code {
	switch status {
	case fiber.StatusNotFound:
		return apierrors.NotFound
	case fiber.StatusTooManyRequests:
		return apierrors.RateLimited
	default:
		if status >= 400 && status < 500 {
			return apierrors.BadRequest
		}
		return apierrors.Internal
	}
}
