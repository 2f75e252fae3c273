package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/staffhub/staffhub/internal/auth"
	"github.com/staffhub/staffhub/internal/config"
	"github.com/staffhub/staffhub/internal/database"
	"github.com/staffhub/staffhub/internal/jobs"
	"github.com/staffhub/staffhub/internal/logging"
	"github.com/staffhub/staffhub/internal/notification"
	"github.com/staffhub/staffhub/internal/storage"
	"github.com/staffhub/staffhub/internal/web"
	"github.com/staffhub/staffhub/internal/web/sse"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var verbosity int

func main() {
	rootCmd := &cobra.Command{
		Use:           "staffhub",
		Short:         "Staffhub - HR, timesheet and project server",
		Long:          `Staffhub serves the HR web client: people and reporting lines, leave, timesheets, projects and employee documents.`,
		RunE:          serve,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE:  serve,
	})

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE:  migrate,
	}
	migrateCmd.Flags().Bool("vacuum", false, "Rebuild the database file after migrating")
	rootCmd.AddCommand(migrateCmd)

	createAdmin := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		Long:  `Creates an active administrator. The password is read from --password or STAFFHUB_ADMIN_PASSWORD.`,
		RunE:  createAdmin,
	}
	createAdmin.Flags().String("email", "", "Email address of the new admin")
	createAdmin.Flags().String("name", "Administrator", "Display name of the new admin")
	createAdmin.Flags().String("password", "", "Password of the new admin (at least 8 characters)")
	_ = createAdmin.MarkFlagRequired("email")
	rootCmd.AddCommand(createAdmin)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("staffhub %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) {
	logFile := cfg.LogFile
	if logFile == "" {
		logFile = logging.FilePathForDB(cfg.DBPath)
	}
	logging.Apply(logging.LevelFromVerbosity(cfg.LogLevel, verbosity), logFile)
}

// openDatabase opens and migrates the database
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	return db, nil
}

func openStore(ctx context.Context, cfg *config.Config) storage.ObjectStore {
	if !cfg.S3.Enabled() {
		log.Warn().Msg("No S3 bucket configured, employee documents are disabled")
		return storage.Disabled{}
	}
	store, err := storage.NewS3Store(ctx, storage.S3Options{
		Endpoint:  cfg.S3.Endpoint,
		Region:    cfg.S3.Region,
		Bucket:    cfg.S3.Bucket,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		PathStyle: cfg.S3.PathStyle,
	})
	if err != nil {
		log.Error().Err(err).Str("bucket", cfg.S3.Bucket).Msg("Failed to initialize S3 store, employee documents are disabled")
		return storage.Disabled{}
	}
	log.Info().Str("bucket", cfg.S3.Bucket).Str("endpoint", cfg.S3.Endpoint).Msg("Document storage enabled")
	return store
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	setupLogging(cfg)
	config.SetGlobalTimeouts(&cfg.Timeouts)

	if cfg.Bind == "" || cfg.Bind == "0.0.0.0" || cfg.Bind == "::" {
		log.Warn().Msg("Server is accessible from all interfaces. Consider using --bind behind a reverse proxy.")
	}

	log.Info().
		Str("version", version).
		Str("addr", cfg.Addr()).
		Str("database", cfg.DBPath).
		Str("public_url", cfg.PublicURL).
		Msg("Starting Staffhub")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	broker := sse.NewBroker()
	notificationMgr := notification.NewManager(db, broker)
	defer notificationMgr.Stop()
	if cfg.Webhook.URL != "" {
		notificationMgr.RegisterProvider("webhook", notification.NewWebhookProvider(notification.WebhookConfig{
			URL:     cfg.Webhook.URL,
			Secret:  cfg.Webhook.Secret,
			Timeout: cfg.Timeouts.HTTPClient,
		}))
	}
	// Only starts when a provider is configured; in-app notifications work regardless
	if started := notificationMgr.Start(); !started {
		log.Debug().Msg("Notification dispatcher not started (no providers configured)")
	}

	scheduler := jobs.NewScheduler(db)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer scheduler.Stop()
	for _, j := range scheduler.Status() {
		log.Debug().Str("job", j.Name).Str("schedule", j.Spec).Time("next_run", j.NextRun).Msg("Scheduled job")
	}

	tokens := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL)
	server, err := web.NewServer(cfg, db, tokens, openStore(ctx, cfg), notificationMgr, broker)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info().Msg("Staffhub stopped")
	return nil
}

func migrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadMaintenance(cmd.Flags())
	if err != nil {
		return err
	}
	setupLogging(cfg)

	db, err := openDatabase(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if vacuum, _ := cmd.Flags().GetBool("vacuum"); vacuum {
		if err := db.Vacuum(cmd.Context()); err != nil {
			return err
		}
		log.Info().Msg("Database vacuumed")
	}

	log.Info().Str("database", cfg.DBPath).Msg("Database is up to date")
	return nil
}

func createAdmin(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadMaintenance(cmd.Flags())
	if err != nil {
		return err
	}
	setupLogging(cfg)

	email, _ := cmd.Flags().GetString("email")
	name, _ := cmd.Flags().GetString("name")
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		password = os.Getenv(config.EnvPrefix + "_ADMIN_PASSWORD")
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	ctx := cmd.Context()
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	admin := &database.User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         database.RoleAdmin,
		Active:       true,
	}

	err = db.Transaction(ctx, func(tx *database.DB) error {
		if err := tx.CreateUser(ctx, admin); err != nil {
			return err
		}
		if err := tx.InitializeDefaults(ctx); err != nil {
			return err
		}
		_, err := tx.ProvisionLeaveBalances(ctx, admin.ID, time.Now().UTC().Year())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create admin %s: %w", database.NormalizeEmail(email), err)
	}

	log.Info().Int64("user_id", admin.ID).Str("email", admin.Email).Msg("Admin account created")
	return nil
}
