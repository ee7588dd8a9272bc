package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pelusa-v/pelusa-live/internal/auth"
	"github.com/pelusa-v/pelusa-live/internal/chat"
	"github.com/pelusa-v/pelusa-live/internal/config"
	"github.com/pelusa-v/pelusa-live/internal/handlers"
	"github.com/pelusa-v/pelusa-live/internal/jobqueue"
	"github.com/pelusa-v/pelusa-live/internal/media"
	"github.com/pelusa-v/pelusa-live/internal/messaging"
	"github.com/pelusa-v/pelusa-live/internal/notification"
	"github.com/pelusa-v/pelusa-live/internal/relay"
	"github.com/pelusa-v/pelusa-live/internal/store"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket and HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		logger, cleanup := config.SetupLogger(cfg.Log.File, config.ParseLogLevel(cfg.Log.Level))
		defer cleanup()
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv, err := newServer(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer srv.close()
		return srv.run(ctx)
	},
}

type server struct {
	cfg     *config.Config
	app     *fiber.App
	manager *chat.ChatManager
	store   store.Store
	queue   *jobqueue.Queue
	logger  *slog.Logger
}

// newServer wires every component from cfg. PostgreSQL is used when
// database.url is set, the in-memory store otherwise.
func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server, error) {
	s := &server{cfg: cfg, logger: logger}

	var pg *store.Postgres
	if cfg.Database.URL != "" {
		var err error
		pg, err = store.NewPostgres(ctx, cfg.Database.URL, logger)
		if err != nil {
			return nil, err
		}
		if err := pg.InitSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		s.store = pg
	} else {
		logger.Warn("database.url not set, using the in-memory store")
		s.store = store.NewMemory()
	}

	mediaStore, err := newMediaStore(ctx, cfg.Media)
	if err != nil {
		s.store.Close()
		return nil, err
	}

	s.manager = chat.NewManager(chat.Options{PushTimeout: cfg.Delivery.PushTimeout, Logger: logger})
	notes := notification.NewService(s.store, s.manager, logger)

	if pg != nil && cfg.Notifications.QueueThreshold > 0 {
		if err := jobqueue.Migrate(ctx, pg.Pool()); err != nil {
			s.store.Close()
			return nil, err
		}
		s.queue, err = jobqueue.New(pg.Pool(), notes, jobqueue.Config{Workers: cfg.Notifications.Workers}, logger)
		if err != nil {
			s.store.Close()
			return nil, err
		}
		notes.SetQueue(s.queue, cfg.Notifications.QueueThreshold)
	}

	msgs := messaging.NewService(s.store, mediaStore, s.manager, notes, messaging.Options{
		MaxTextRunes:     cfg.Messaging.MaxText,
		MaxMediaBytes:    cfg.Media.MaxBytes,
		Rate:             rate.Limit(cfg.Messaging.Rate),
		Burst:            cfg.Messaging.Burst,
		LimiterCacheSize: cfg.Messaging.LimiterCache,
		Logger:           logger,
	})

	h := handlers.New(handlers.Deps{
		Manager:       s.manager,
		Messages:      msgs,
		Notifications: notes,
		Relay:         relay.New(s.manager, logger),
		Verifier:      auth.NewVerifier(cfg.Auth.JWTSecret),
		InternalKey:   cfg.Auth.InternalKey,
		SendBuffer:    cfg.Delivery.SendBuffer,
		DedupeSize:    cfg.Delivery.DedupeSize,
		Logger:        logger,
	})

	// two attachments plus the text fields
	s.app = handlers.NewApp(int(2*cfg.Media.MaxBytes)+1<<20, logger)
	if cfg.Media.Backend == "disk" {
		s.app.Static(cfg.Media.BaseURL, cfg.Media.Dir)
	}
	h.Routes(s.app)
	return s, nil
}

func newMediaStore(ctx context.Context, cfg config.MediaConfig) (media.Store, error) {
	switch cfg.Backend {
	case "s3":
		return media.NewS3(ctx, media.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Prefix:    cfg.S3.Prefix,
			Endpoint:  cfg.S3.Endpoint,
			PublicURL: cfg.S3.PublicURL,
		})
	default:
		return media.NewDisk(cfg.Dir, cfg.BaseURL)
	}
}

// run serves until ctx is cancelled, then shuts everything down.
func (s *server) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.manager.Start(ctx) })
	if s.queue != nil {
		if err := s.queue.Start(ctx); err != nil {
			return fmt.Errorf("start job queue: %w", err)
		}
	}
	g.Go(func() error {
		s.logger.Info("listening", "addr", s.cfg.Server.Addr, "version", Version)
		return s.app.Listen(s.cfg.Server.Addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if s.queue != nil {
			if err := s.queue.Stop(shutdownCtx); err != nil {
				s.logger.Warn("job queue did not stop cleanly", "error", err)
			}
		}
		return s.app.ShutdownWithContext(shutdownCtx)
	})
	return g.Wait()
}

func (s *server) close() {
	s.store.Close()
}
