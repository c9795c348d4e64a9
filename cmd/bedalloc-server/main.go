package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bedalloc/bedalloc/internal/config"
	"github.com/bedalloc/bedalloc/internal/domain/allocation"
	"github.com/bedalloc/bedalloc/internal/domain/facility"
	"github.com/bedalloc/bedalloc/internal/platform/db"
	"github.com/bedalloc/bedalloc/internal/platform/events"
	"github.com/bedalloc/bedalloc/internal/platform/metrics"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "bedalloc-server",
		Short:        "Nearest-facility bed matching and allocation server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(bookingsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// bootstrap loads the config and opens the configured stores.
func bootstrap(ctx context.Context) (*config.Config, zerolog.Logger, *stores, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, logger, nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	return cfg, logger, st, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the allocation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations (postgres backend)",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, st, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer st.close()
			if st.migrator == nil {
				return errors.New("migrations only apply to the postgres backend")
			}
			n, err := st.migrator.Up(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s)\n", n)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, st, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer st.close()
			if st.migrator == nil {
				return errors.New("migrations only apply to the postgres backend")
			}
			statuses, err := st.migrator.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-8s %-30s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, at := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						at = s.AppliedAt.Format(time.RFC3339)
					}
				}
				fmt.Fprintf(out, "%-8d %-30s %-10s %s\n", s.Version, s.Name, status, at)
			}
			return nil
		},
	}

	cmd.AddCommand(upCmd, statusCmd)
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Provision facilities that do not exist yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			facilities, err := loadFacilities(file)
			if err != nil {
				return err
			}
			_, logger, st, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer st.close()

			created, err := seed(cmd.Context(), facility.NewService(st.registry, logger), facilities)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Provisioned %d of %d facilities\n", created, len(facilities))
			return nil
		},
	}
	cmd.Flags().String("file", "", "JSON array of facilities (default: the built-in set)")
	return cmd
}

func bookingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookings",
		Short: "Booking maintenance",
	}

	reapCmd := &cobra.Command{
		Use:   "reap",
		Short: "Settle bookings left Pending by interrupted requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			cfg, logger, st, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer st.close()

			pub, _, closePub, err := newPublisher(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closePub()

			res, err := reap(cmd.Context(), st, pub, logger, olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "examined=%d confirmed=%d rolled_back=%d skipped=%d\n",
				res.Examined, res.Confirmed, res.RolledBack, res.Skipped)
			return nil
		},
	}
	reapCmd.Flags().Duration("older-than", 10*time.Minute, "only settle bookings pending for longer than this")

	cmd.AddCommand(reapCmd)
	return cmd
}

// reap settles stale Pending bookings and publishes the outcome of each.
func reap(ctx context.Context, st *stores, pub events.Publisher, logger zerolog.Logger, olderThan time.Duration) (*allocation.ReapResult, error) {
	svc := allocation.NewService(st.registry, st.bookings, logger)
	svc.SetPublisher(pub)
	return svc.ReapPending(ctx, olderThan)
}

// loadFacilities reads a JSON facility list, or returns the defaults when
// path is empty.
func loadFacilities(path string) ([]*facility.Facility, error) {
	if path == "" {
		return facility.DefaultFacilities(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var items []*facility.Facility
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s lists no facilities", path)
	}
	return items, nil
}

func seed(ctx context.Context, svc *facility.Service, facilities []*facility.Facility) (int, error) {
	created := 0
	for _, f := range facilities {
		ok, err := svc.Provision(ctx, f)
		if err != nil {
			return created, fmt.Errorf("provision %q: %w", f.Name, err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// newPublisher always logs events and adds the Redis stream and webhook
// sinks when they are configured. The returned close func drains the webhook
// queue before the Redis client is released.
func newPublisher(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (events.Publisher, *events.RedisPublisher, func(), error) {
	sinks := events.Multi{events.NewLogPublisher(logger)}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var rp *events.RedisPublisher
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		rp = events.NewRedisPublisher(rdb, cfg.EventsStream, events.WithMaxLen(100000))
		sinks = append(sinks, rp)
		closers = append(closers, func() { rdb.Close() })
	}

	if cfg.WebhookURL != "" {
		wp, err := events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, logger)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("WEBHOOK_URL: %w", err)
		}
		wp.Start(ctx)
		sinks = append(sinks, wp)
		closers = append(closers, wp.Close)
	}

	if len(sinks) == 1 {
		return sinks[0], rp, closeAll, nil
	}
	return sinks, rp, closeAll, nil
}

func runServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, st, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	if cfg.StoreBackend == config.BackendMemory {
		if _, err := seed(ctx, facility.NewService(st.registry, logger), facility.DefaultFacilities()); err != nil {
			return err
		}
	}

	pub, redisPub, closePub, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePub()
	checks := st.checks
	if redisPub != nil {
		checks = append(checks, db.Check{Name: "redis", Pinger: redisPub})
	}

	m := metrics.New()
	a, err := newApp(cfg, logger, st, pub, m)
	if err != nil {
		return err
	}
	e := newServer(cfg, logger, a, m, checks)

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	a.limiter.StartJanitor(janitorCtx, 2*time.Minute)

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Str("backend", cfg.StoreBackend).
			Str("ladder", a.matcher.Ladder().String()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
