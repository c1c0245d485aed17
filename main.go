package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/storage/memory/v2"
	"github.com/gofiber/storage/redis/v3"
	"github.com/khanghh/koidc/internal/audit"
	"github.com/khanghh/koidc/internal/ciba"
	"github.com/khanghh/koidc/internal/clients"
	"github.com/khanghh/koidc/internal/common"
	"github.com/khanghh/koidc/internal/config"
	"github.com/khanghh/koidc/internal/grants"
	"github.com/khanghh/koidc/internal/handlers/api"
	"github.com/khanghh/koidc/internal/middlewares"
	"github.com/khanghh/koidc/internal/notify"
	"github.com/khanghh/koidc/internal/revoke"
	"github.com/khanghh/koidc/internal/store"
	"github.com/khanghh/koidc/model"
	"github.com/khanghh/koidc/params"
	"github.com/oklog/ulid/v2"
	"github.com/urfave/cli/v2"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"
)

var (
	app       *cli.App
	gitCommit string
	gitDate   string
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "YAML config file",
		Value: "config.yaml",
	}
	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging",
	}
	clientNameFlag = &cli.StringFlag{
		Name:     "name",
		Usage:    "Client display name",
		Required: true,
	}
	clientScopesFlag = &cli.StringFlag{
		Name:  "scopes",
		Usage: "Space separated scopes granted to the client",
		Value: "openid",
	}
	clientGrantTypesFlag = &cli.StringFlag{
		Name:  "grant-types",
		Usage: "Space separated grant types allowed for the client",
		Value: "authorization_code refresh_token",
	}
	clientPublicFlag = &cli.BoolFlag{
		Name:  "public",
		Usage: "Register a public client without a secret",
	}
	deliveryModeFlag = &cli.StringFlag{
		Name:  "delivery-mode",
		Usage: "CIBA token delivery mode (poll, ping, push)",
	}
	notificationEndpointFlag = &cli.StringFlag{
		Name:  "notification-endpoint",
		Usage: "CIBA client notification endpoint",
	}
)

func init() {
	app = cli.NewApp()
	app.EnableBashCompletion = true
	app.Usage = "koidc - OAuth2 token revocation and CIBA backchannel server"
	app.Flags = []cli.Flag{
		configFileFlag,
		debugFlag,
	}
	app.Commands = []*cli.Command{
		{
			Name: "version",
			Action: func(ctx *cli.Context) error {
				fmt.Println(params.VersionWithCommit(gitCommit, gitDate))
				return nil
			},
		},
		{
			Name:   "sweep",
			Usage:  "Run a single ciba sweep and exit",
			Action: sweepOnce,
		},
		{
			Name:   "cleanup",
			Usage:  "Delete expired tokens and exit",
			Action: cleanupOnce,
		},
		{
			Name:  "client",
			Usage: "Manage registered clients",
			Subcommands: []*cli.Command{
				{
					Name:  "add",
					Usage: "Register a new client",
					Flags: []cli.Flag{
						clientNameFlag,
						clientScopesFlag,
						clientGrantTypesFlag,
						clientPublicFlag,
						deliveryModeFlag,
						notificationEndpointFlag,
					},
					Action: addClient,
				},
				{
					Name:      "delete",
					Usage:     "Delete a client",
					ArgsUsage: "<client_id>",
					Action:    deleteClient,
				},
			},
		},
	}
	app.Action = run
}

func mustInitLogger(debug bool, format string) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func mustInitDatabase(dbConfig config.MySQLConfig) *gorm.DB {
	db, err := gorm.Open(mysql.Open(dbConfig.Dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   dbConfig.TablePrefix,
			SingularTable: true,
		},
		TranslateError: true,
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	replicas := make([]gorm.Dialector, 0, len(dbConfig.Replicas))
	for _, dsn := range dbConfig.Replicas {
		replicas = append(replicas, mysql.Open(dsn))
	}
	resolver := dbresolver.Register(dbresolver.Config{Replicas: replicas})
	if dbConfig.MaxIdleConns > 0 {
		resolver.SetMaxIdleConns(dbConfig.MaxIdleConns)
	}
	if dbConfig.MaxOpenConns > 0 {
		resolver.SetMaxOpenConns(dbConfig.MaxOpenConns)
	}
	if dbConfig.ConnMaxIdleTime > 0 {
		resolver.SetConnMaxIdleTime(dbConfig.ConnMaxIdleTime)
	}
	if dbConfig.ConnMaxLifetime > 0 {
		resolver.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)
	}
	if err := db.Use(resolver); err != nil {
		slog.Error("Failed to register database resolver", "error", err)
		os.Exit(1)
	}

	if err := model.AutoMigrate(db); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	}

	return db
}

func mustInitRedisStorage(redisCfg config.RedisConfig) *redis.Storage {
	return redis.New(redis.Config{
		URL:           redisCfg.URL,
		PoolSize:      redisCfg.PoolSize,
		IsClusterMode: redisCfg.ClusterMode,
	})
}

// mustInitCacheStorage returns the cache backing ciba request mirrors and a
// readiness check for it.
func mustInitCacheStorage(cfg *config.Config) (store.Storage, common.ReadinessCheck) {
	switch cfg.Cache.Backend {
	case "redis":
		redisStorage := mustInitRedisStorage(cfg.Redis)
		return store.NewRedisStorage(redisStorage.Conn()), common.PingRedis(redisStorage.Conn())
	case "memory":
		return store.NewFiberStorage(memory.New()), nil
	default:
		slog.Error("Unsupported cache backend", "backend", cfg.Cache.Backend)
		os.Exit(1)
		return nil, nil
	}
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(ctx.String(configFileFlag.Name))
	if err != nil {
		slog.Error("Could not load config file.", "error", err)
		return nil, err
	}
	mustInitLogger(cfg.Debug || ctx.IsSet(debugFlag.Name), cfg.LogFormat)
	return cfg, nil
}

func newCibaStore(db *gorm.DB, cacheStorage store.Storage, cfg config.CibaConfig) *ciba.Store {
	return ciba.NewStore(ciba.NewRequestRepository(db), cacheStorage, cfg.CacheGraceSeconds)
}

func newCallbackSender(cfg config.CibaConfig) *notify.HTTPSender {
	return notify.NewHTTPSender(cfg.CallbackTimeout, cfg.CallbackRateLimit)
}

func newRequestID() string {
	return ulid.Make().String()
}

func run(ctx *cli.Context) error {
	config, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	db := mustInitDatabase(config.MySQL)
	cacheStorage, cacheCheck := mustInitCacheStorage(config)
	audit.Initialize(audit.NewAuditEventRepository(db))

	// repositories
	var (
		tokenRepo  = grants.NewTokenRepository(db)
		clientRepo = clients.NewClientRepository(db)
	)

	// services
	var (
		tokenService  = grants.NewTokenService(tokenRepo)
		clientService = clients.NewClientService(clientRepo)
		revokeService = revoke.NewRevokeService(tokenService, config.Revocation)
		cibaStore     = newCibaStore(db, cacheStorage, config.Ciba)
	)

	// background workers
	var (
		sweeper     = ciba.NewSweeper(cibaStore, newCallbackSender(config.Ciba), config.Ciba, slog.Default())
		housekeeper = grants.NewHousekeeper(tokenService, slog.Default(), config.Tokens.CleanupInterval, config.Tokens.CleanupBatchSize)
	)
	sweeper.Start()
	defer sweeper.Stop()
	housekeeper.Start()
	defer housekeeper.Stop()

	// handlers
	var (
		revokeHandler = api.NewRevokeHandler(clientService, revokeService)
		cibaHandler   = api.NewCibaHandler(clientService, cibaStore, config.Ciba)
	)

	router := fiber.New(fiber.Config{
		Prefork:       false,
		CaseSensitive: true,
		BodyLimit:     params.ServerBodyLimit,
		IdleTimeout:   params.ServerIdleTimeout,
		ReadTimeout:   params.ServerReadTimeout,
		WriteTimeout:  params.ServerWriteTimeout,
		ErrorHandler:  middlewares.ErrorHandler,
	})

	router.Use(recover.New())
	router.Use(requestid.New(requestid.Config{Generator: newRequestID}))
	router.Use(logger.New(logger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${locals:requestid}\n",
	}))
	router.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(config.AllowOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	router.Post("/revoke", revokeHandler.PostRevoke)
	router.Post("/bc-authorize", cibaHandler.PostBackchannelAuthorize)

	checks := map[string]common.ReadinessCheck{
		"database": common.PingDatabase(db),
	}
	if cacheCheck != nil {
		checks["cache"] = cacheCheck
	}
	healthCheckCtx, term := context.WithCancel(ctx.Context)
	done := make(chan struct{})
	go common.StartHealthCheckServer(healthCheckCtx, done, params.HealthCheckServerAddr, checks)
	defer func() {
		term()
		<-done
	}()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("Shutting down server")
		_ = router.Shutdown()
	}()
	return router.Listen(config.ListenAddr)
}

func sweepOnce(ctx *cli.Context) error {
	config, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	db := mustInitDatabase(config.MySQL)
	cacheStorage, _ := mustInitCacheStorage(config)
	audit.Initialize(audit.NewAuditEventRepository(db))

	// a one-shot sweep ignores the processing interval gate
	config.Ciba.ProcessingInterval = 0
	sweeper := ciba.NewSweeper(newCibaStore(db, cacheStorage, config.Ciba), newCallbackSender(config.Ciba), config.Ciba, slog.Default())
	ran := sweeper.Tick(ctx.Context)
	sweeper.Wait()
	slog.Info("Ciba sweep finished", "ran", ran)
	return nil
}

func cleanupOnce(ctx *cli.Context) error {
	config, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	db := mustInitDatabase(config.MySQL)
	tokenService := grants.NewTokenService(grants.NewTokenRepository(db))
	housekeeper := grants.NewHousekeeper(tokenService, slog.Default(), config.Tokens.CleanupInterval, config.Tokens.CleanupBatchSize)
	removed := housekeeper.Cleanup(ctx.Context)
	fmt.Printf("removed %d expired tokens\n", removed)
	return nil
}

func addClient(ctx *cli.Context) error {
	config, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	db := mustInitDatabase(config.MySQL)
	clientService := clients.NewClientService(clients.NewClientRepository(db))

	client := &model.Client{
		Name:                            ctx.String(clientNameFlag.Name),
		Scopes:                          ctx.String(clientScopesFlag.Name),
		GrantTypes:                      ctx.String(clientGrantTypesFlag.Name),
		Public:                          ctx.Bool(clientPublicFlag.Name),
		BackchannelDeliveryMode:         model.DeliveryMode(ctx.String(deliveryModeFlag.Name)),
		BackchannelNotificationEndpoint: ctx.String(notificationEndpointFlag.Name),
	}
	secret, err := clientService.RegisterClient(ctx.Context, client)
	if err != nil {
		return err
	}
	fmt.Printf("client_id:     %s\n", client.ClientID)
	if secret != "" {
		fmt.Printf("client_secret: %s\n", secret)
	}
	return nil
}

func deleteClient(ctx *cli.Context) error {
	clientID := ctx.Args().First()
	if clientID == "" {
		return fmt.Errorf("missing client_id")
	}
	config, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	db := mustInitDatabase(config.MySQL)
	clientService := clients.NewClientService(clients.NewClientRepository(db))
	if err := clientService.DeleteClient(ctx.Context, clientID); err != nil {
		return err
	}
	fmt.Printf("deleted client %s\n", clientID)
	return nil
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
