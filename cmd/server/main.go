package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jimdaga/giftwise/internal/api"
	"github.com/jimdaga/giftwise/internal/config"
	"github.com/jimdaga/giftwise/internal/database"
	"github.com/jimdaga/giftwise/internal/delivery"
	"github.com/jimdaga/giftwise/internal/health"
	"github.com/jimdaga/giftwise/internal/models"
	"github.com/jimdaga/giftwise/internal/ratelimit"
	"github.com/jimdaga/giftwise/internal/scheduler"
	"github.com/jimdaga/giftwise/internal/store"
	"github.com/jimdaga/giftwise/internal/streams"
	"github.com/jimdaga/giftwise/internal/transport"
	"github.com/jimdaga/giftwise/internal/webhook"
	"github.com/jimdaga/giftwise/internal/worker"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const usage = `usage: server <command> [flags]

commands:
  serve            run the operator API (with an embedded worker in development)
  worker           run the delivery worker, the periodic scheduler and the outcome consumer
  schedule         run one scheduler pass now [-lead-days N]
  health           report channel health [-user ID] [-channel C] [-verbose] [-log-issues]
  outage-resolve   resolve the open outages of a channel -channel C
  migrate          apply database migrations [-down]
  seed             insert development data`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := worker.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "serve":
		err = runServe(ctx, cfg, logger)
	case "worker":
		err = runWorker(ctx, cfg, logger)
	case "schedule":
		err = runSchedule(ctx, cfg, logger, args)
	case "health":
		err = runHealth(ctx, cfg, logger, args)
	case "outage-resolve":
		err = runOutageResolve(ctx, cfg, logger, args)
	case "migrate":
		err = runMigrate(cfg, logger, args)
	case "seed":
		err = runSeed(cfg, logger)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("Command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

// app holds the shared dependencies of every command.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *gorm.DB
	rdb       *redis.Client
	store     *store.Store
	limiter   *ratelimit.Limiter
	validator *webhook.Validator
	prober    *webhook.Prober
	queue     *worker.Client
	monitor   *health.Monitor
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := models.InitEncryption(cfg.EncryptionKey); err != nil {
		return nil, fmt.Errorf("failed to init encryption: %w", err)
	}

	db, err := database.Init(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	queue, err := worker.NewClient(cfg.RedisURL, logger)
	if err != nil {
		rdb.Close()
		database.Close(db)
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, db: db, rdb: rdb, store: store.New(db), queue: queue}

	policies, err := a.policies(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.limiter = ratelimit.NewLimiter(rdb, policies, a.store, logger)

	a.validator, err = webhook.NewValidator(cfg.TrustedWebhookDomains)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.prober = webhook.NewProber(rdb, cfg.WebhookUserAgent, logger)
	a.monitor = health.NewMonitor(a.store, a.prober, cfg.HealthConcurrency, logger)
	return a, nil
}

// policies syncs the optional policy file into the config table and loads the effective set.
func (a *app) policies(ctx context.Context) ([]ratelimit.Policy, error) {
	if a.cfg.RateLimitPolicyFile != "" {
		fromFile, err := ratelimit.LoadPolicyFile(a.cfg.RateLimitPolicyFile)
		if err != nil {
			return nil, err
		}
		ratelimit.SyncPolicies(ctx, a.store, fromFile, a.logger)
	}
	policies, err := ratelimit.LoadPolicies(ctx, a.store)
	if err != nil {
		a.logger.Warn("Failed to load rate limit policies, using defaults", "error", err)
		return ratelimit.DefaultPolicies(), nil
	}
	return policies, nil
}

func (a *app) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	a.rdb.Close()
	database.Close(a.db)
}

func (a *app) registry() *transport.Registry {
	poster := transport.NewPoster(a.cfg.WebhookUserAgent, a.validator, a.logger)
	mailer := transport.NewSMTPMailer(transport.SMTPConfig{
		Host:     a.cfg.SMTPHost,
		Port:     a.cfg.SMTPPort,
		Username: a.cfg.SMTPUsername,
		Password: a.cfg.SMTPPassword,
		From:     a.cfg.MailFrom,
	})
	return transport.NewRegistry(
		transport.NewMailTransport(mailer, a.logger),
		transport.NewDiscordTransport(poster),
		transport.NewSlackTransport(poster),
		transport.NewPushTransport(poster),
	)
}

func (a *app) scheduler() *scheduler.Scheduler {
	return scheduler.New(a.store, a.limiter, a.queue, a.cfg.SchedulerBatchSize, a.logger)
}

func (a *app) handlers() *worker.Handlers {
	deliverer := delivery.NewDeliverer(a.store, a.limiter, a.registry(), a.queue, streams.NewPublisher(a.rdb), a.logger)
	batch := delivery.NewBatchProcessor(a.store, a.limiter, a.queue, a.cfg.BatchChunkSize, a.logger)
	return worker.NewHandlers(deliverer, batch, a.scheduler(), a.logger)
}

func (a *app) serverConfig() worker.ServerConfig {
	return worker.ServerConfig{RedisURL: a.cfg.RedisURL, Concurrency: a.cfg.WorkerConcurrency}
}

func (a *app) settingsDefaults() store.SettingsDefaults {
	channels := make([]models.Channel, 0, len(a.cfg.DefaultChannels))
	for _, c := range a.cfg.DefaultChannels {
		if ch := models.Channel(c); ch.Valid() {
			channels = append(channels, ch)
		}
	}
	return store.SettingsDefaults{
		LeadTimeDays: a.cfg.DefaultLeadTimeDays,
		SendTime:     a.cfg.DefaultSendTime,
		Channels:     channels,
	}
}

// startBackground runs the periodic scheduler and the outcome consumer.
func (a *app) startBackground() (stop func(), err error) {
	stopScheduler, err := worker.StartScheduler(worker.SchedulerConfig{
		RedisURL: a.cfg.RedisURL,
		Cron:     a.cfg.ReminderSchedule,
		Timezone: a.cfg.ReminderTimezone,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	stopConsumer, err := streams.StartOutcomeConsumer(a.rdb, "health-"+hostname, streams.RecordDeliverySamples(a.store, a.logger), a.logger)
	if err != nil {
		stopScheduler()
		return nil, err
	}
	return func() {
		stopConsumer()
		stopScheduler()
	}, nil
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.OperatorToken == "" {
		logger.Warn("OPERATOR_TOKEN is empty, operator API is unauthenticated")
	}

	// development runs everything in one process
	if cfg.IsDevelopment() {
		stopWorker, err := worker.Start(a.serverConfig(), a.handlers(), logger)
		if err != nil {
			return err
		}
		defer stopWorker()
		stopBackground, err := a.startBackground()
		if err != nil {
			return err
		}
		defer stopBackground()
	}

	router := api.NewRouter(api.Deps{
		Health:           a.monitor,
		RateLimits:       a.limiter,
		Settings:         a.store,
		SettingsDefaults: a.settingsDefaults(),
		Validator:        a.validator,
		Prober:           a.prober,
		Queue:            a.queue,
		OperatorToken:    cfg.OperatorToken,
		Logger:           logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "port", cfg.Port, "env", cfg.Env)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	stopBackground, err := a.startBackground()
	if err != nil {
		return err
	}
	defer stopBackground()

	// blocks until SIGTERM or SIGINT
	return worker.Run(a.serverConfig(), a.handlers(), logger)
}

func runSchedule(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	leadDays := fs.Int("lead-days", -1, "override every user's lead time in days")
	fs.Parse(args)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := scheduler.RunOptions{}
	if *leadDays >= 0 {
		opts.LeadDaysOverride = leadDays
	}

	n, err := a.scheduler().Run(ctx, opts)
	fmt.Printf("Scheduled %d reminder(s)\n", n)
	return err
}

func runHealth(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	userID := fs.Uint("user", 0, "report a single user")
	channel := fs.String("channel", "", "limit the report to one channel")
	verbose := fs.Bool("verbose", false, "print details for every channel")
	logIssues := fs.Bool("log-issues", false, "record samples and open outages for unhealthy channels")
	fs.Parse(args)

	var only models.Channel
	if *channel != "" {
		only = models.Channel(*channel)
		if !only.Valid() {
			return fmt.Errorf("unknown channel %q", *channel)
		}
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if *userID != 0 {
		uh, err := a.monitor.UserHealth(ctx, *userID)
		if err != nil {
			return err
		}
		printUserHealth(*uh, only, true)
		return nil
	}

	var ov *health.SystemOverview
	if *logIssues {
		res, err := a.monitor.CheckSystem(ctx)
		if err != nil {
			return err
		}
		ov = res.Overview
		for _, o := range res.OpenedOutages {
			fmt.Printf("Outage opened: %s (%s)\n", o.Channel, o.Reason)
		}
	} else if ov, err = a.monitor.SystemOverview(ctx); err != nil {
		return err
	}

	fmt.Printf("Users: %d total, %d active, health %.1f%%\n", ov.TotalUsers, ov.ActiveUsers, ov.HealthPercentage)
	for _, ch := range models.AllChannels() {
		if only != "" && ch != only {
			continue
		}
		s := ov.Channels[ch]
		fmt.Printf("  %-8s healthy=%d unhealthy=%d inactive=%d configured=%d\n", ch, s.Healthy, s.Unhealthy, s.Inactive, s.Configured)
	}

	if *verbose {
		users, err := a.monitor.UsersWithUnhealthyChannels(ctx)
		if err != nil {
			return err
		}
		for _, uh := range users {
			printUserHealth(uh, only, false)
		}
	}
	return nil
}

func printUserHealth(uh health.UserHealth, only models.Channel, all bool) {
	fmt.Printf("User %d <%s>\n", uh.UserID, uh.Email)
	for _, h := range uh.Channels {
		if (only != "" && h.Channel != only) || (!all && h.Status != health.StatusUnhealthy) {
			continue
		}
		fmt.Printf("  %-8s %-9s attempts=%d", h.Channel, h.Status, h.TotalAttempts)
		if h.LastUsed != nil {
			fmt.Printf(" last_used=%s", h.LastUsed.Format(time.RFC3339))
		}
		if len(h.Details) > 0 {
			fmt.Printf(" (%s)", strings.Join(h.Details, "; "))
		}
		fmt.Println()
	}
}

func runOutageResolve(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("outage-resolve", flag.ExitOnError)
	channel := fs.String("channel", "", "channel whose outages to resolve")
	fs.Parse(args)

	ch := models.Channel(*channel)
	if !ch.Valid() {
		return fmt.Errorf("-channel must be one of %v", models.AllChannels())
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.monitor.ResolveOutage(ctx, ch)
	if err != nil {
		return err
	}
	out, _ := json.Marshal(map[string]any{"channel": ch, "resolved": n})
	fmt.Println(string(out))
	return nil
}

func runMigrate(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	down := fs.Bool("down", false, "roll back the most recent migration")
	fs.Parse(args)

	db, err := database.Init(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if *down {
		return database.RollbackMigration(db, logger)
	}
	return database.RunMigrations(db, logger)
}

func runSeed(cfg *config.Config, logger *slog.Logger) error {
	if !cfg.IsDevelopment() {
		return errors.New("seed is only allowed in development")
	}
	if err := models.InitEncryption(cfg.EncryptionKey); err != nil {
		return err
	}

	db, err := database.Init(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if err := database.RunMigrations(db, logger); err != nil {
		return err
	}
	return database.SeedDevData(db, logger)
}
