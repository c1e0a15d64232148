package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AbuAli85/business-services-hub-sub011/internal/cascade"
	"github.com/AbuAli85/business-services-hub-sub011/internal/dispatch"
	"github.com/AbuAli85/business-services-hub-sub011/internal/events"
	"github.com/AbuAli85/business-services-hub-sub011/internal/feed"
	"github.com/AbuAli85/business-services-hub-sub011/internal/model"
	"github.com/AbuAli85/business-services-hub-sub011/internal/notify"
	"github.com/AbuAli85/business-services-hub-sub011/internal/realtime"
	"github.com/AbuAli85/business-services-hub-sub011/internal/repository"
	"github.com/AbuAli85/business-services-hub-sub011/internal/snapshot"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/config"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/db"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/logger"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/redis"
	"github.com/AbuAli85/business-services-hub-sub011/pkg/util"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		opts      watchOptions
		configDir string
	)

	root := &cobra.Command{
		Use:   "watch",
		Short: "Follow one booking's progress live",
		Long: `watch subscribes to a booking's task, milestone and booking changes and
redraws its progress on every update. Send SIGHUP to reconnect after the
connection has failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(opts.bookingID); err != nil {
				return fmt.Errorf("--booking must be a uuid: %w", err)
			}
			cfg, err := config.LoadLayered(config.GetConfigEnv(), configDir)
			if err != nil {
				return err
			}
			return watch(cmd.Context(), cmd.OutOrStdout(), cfg, opts)
		},
	}
	root.Flags().StringVar(&opts.bookingID, "booking", "", "booking id to watch")
	root.Flags().BoolVar(&opts.recompute, "recompute", false, "recompute progress when a task or milestone completes")
	root.Flags().BoolVar(&opts.summary, "summary", false, "print only the overall progress, coalescing bursts of updates")
	root.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")
	root.PersistentFlags().StringVar(&configDir, "config-dir", config.GetEnv("CONFIG_DIR", "config"), "directory holding base.yaml")
	_ = root.MarkFlagRequired("booking")

	root.AddCommand(newSchemaCmd(&configDir))
	return root
}

func newSchemaCmd(configDir *string) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Show or apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadLayered(config.GetConfigEnv(), *configDir)
			if err != nil {
				return err
			}
			if apply {
				if err := db.RunMigrations(cfg.DB, zap.NewNop()); err != nil {
					return err
				}
			}
			status, err := db.GetMigrationStatus(cfg.DB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", status.CurrentVersion, status.Dirty)
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "apply pending migrations first")
	return cmd
}

type watchOptions struct {
	bookingID string
	recompute bool
	summary   bool
	verbose   bool
}

func watch(ctx context.Context, out io.Writer, cfg *config.Config, o watchOptions) error {
	bookingID := o.bookingID
	log := zap.NewNop()
	if o.verbose {
		log = logger.NewConsoleLogger(true)
	}
	defer log.Sync()

	pool, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		return err
	}
	defer pool.Close()
	rdb, err := redis.NewRedisClient(cfg.Redis, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	store := repository.NewPGStore(pool, log)
	view := snapshot.New(bookingID)

	var outMu sync.Mutex
	draw := func(s snapshot.Snapshot) {
		outMu.Lock()
		defer outMu.Unlock()
		render(out, s)
	}
	drawSummary := func(b *model.Booking) {
		outMu.Lock()
		defer outMu.Unlock()
		renderSummary(out, b)
	}

	// Aggregate debounce drops intermediate events, so summary mode re-reads
	// totals instead of applying events to the view.
	debounce := cfg.Dispatcher.DetailDebounce()
	if o.summary {
		debounce = cfg.Dispatcher.AggregateDebounce()
	}
	bus := dispatch.New(dispatch.WithDebounce(debounce), dispatch.WithLogger(log))
	defer bus.Shutdown()
	if o.summary {
		bus.Subscribe(summaryHandler(ctx, store, bookingID, drawSummary, log))
	} else {
		bus.Subscribe(view.Handler(draw))
	}
	bus.Subscribe(func(msg dispatch.Message) {
		if msg.Alert == nil {
			return
		}
		outMu.Lock()
		defer outMu.Unlock()
		renderAlert(out, *msg.Alert)
	})

	channel := feed.Merge(
		feed.NewPGListener(pool, cfg.Realtime.NotifyChannel, log),
		feed.NewRedisBroadcaster(rdb, log),
	)
	opts := []realtime.Option{
		realtime.WithLogger(log),
		realtime.WithRefetch(func(ctx context.Context) error {
			if o.summary {
				b, err := store.GetBooking(ctx, bookingID)
				if err != nil {
					return err
				}
				drawSummary(b)
				return nil
			}
			if err := view.Reload(ctx, store); err != nil {
				return err
			}
			draw(view.Snapshot())
			return nil
		}),
		realtime.WithStateListener(func(s realtime.State) {
			log.Info("Connection state", zap.String("state", string(s)))
		}),
	}
	if o.recompute {
		engine := cascade.NewEngine(store, events.Nop, notify.Nop, log)
		opts = append(opts,
			realtime.WithCascader(engine),
			realtime.WithClaimer(util.NewDeduper(rdb, time.Minute, log)),
		)
	}
	client := realtime.NewClient(bookingID, channel, bus, cfg.Realtime, opts...)
	defer client.Disconnect()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		log.Warn("Initial connect failed, retrying", zap.Error(err))
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if err := client.Reconnect(ctx); err != nil {
				log.Warn("Reconnect failed", zap.Error(err))
			}
		}
	}
}
