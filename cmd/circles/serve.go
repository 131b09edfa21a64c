package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/wishp/circles/internal/auth"
	"github.com/wishp/circles/internal/chat"
	"github.com/wishp/circles/internal/config"
	"github.com/wishp/circles/internal/data"
	"github.com/wishp/circles/internal/db"
	"github.com/wishp/circles/internal/events"
	"github.com/wishp/circles/internal/handlers"
	"github.com/wishp/circles/internal/hub"
	"github.com/wishp/circles/internal/logger"
	"github.com/wishp/circles/internal/media"
	"github.com/wishp/circles/internal/middleware"
	"github.com/wishp/circles/internal/presence"
	"github.com/wishp/circles/internal/room"
	"github.com/wishp/circles/internal/social"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := logger.New(cfg.Dev())
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

// stack is everything serve starts, in the order it must be torn down.
type stack struct {
	srv     *handlers.Server
	closers []func(ctx context.Context) error
}

func (s *stack) onClose(f func(ctx context.Context) error) {
	s.closers = append(s.closers, f)
}

func (s *stack) close(ctx context.Context, log *zap.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			log.Warn("shutdown step failed", zap.Error(err))
		}
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	st, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go st.srv.Rooms.Run(runCtx)

	app := handlers.NewApp(st.srv)
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.App.Addr), zap.String("env", cfg.App.Env))
		errc <- app.Listen(cfg.App.Addr)
	}()

	select {
	case err = <-errc:
		log.Error("server stopped", zap.Error(err))
	case <-ctx.Done():
		log.Info("shutting down")
	}
	cancel()

	shutCtx, done := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer done()
	if serr := app.ShutdownWithContext(shutCtx); serr != nil {
		log.Warn("fiber shutdown", zap.Error(serr))
	}
	st.close(shutCtx, log)
	log.Info("shutdown complete")
	return err
}

// build wires storage, transport and the domain managers from cfg. Optional
// backends (mongo, redis, kafka, media) fall back to in-process versions
// when unset.
func build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stack, error) {
	st := &stack{}
	fail := func(err error) (*stack, error) {
		st.close(context.Background(), log)
		return nil, err
	}

	h := hub.New(log.Named("hub"))
	srv := &handlers.Server{
		Hub:         h,
		JWT:         auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.TokenTTL()),
		Gate:        auth.NewAccessGate(cfg.Auth.AccessCodeHashes),
		MediaLimits: media.Limits{MaxBytes: cfg.Media.MaxUploadBytes, MaxVideoSeconds: cfg.Media.MaxVideoSeconds},
		Log:         log,
	}
	st.srv = srv

	var state data.StateStore
	if cfg.Mongo.URI != "" {
		client, err := db.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return fail(err)
		}
		st.onClose(client.Close)
		if err := client.CreateIndexes(ctx); err != nil {
			return fail(err)
		}
		srv.Users = data.NewUsersStore(client.UsersCollection())
		srv.Sessions = data.NewSessionsStore(client.SessionsCollection())
		state = data.NewStateDocs(client.StateCollection())
		srv.DB = client
		log.Info("mongo connected", zap.String("database", cfg.Mongo.Database))
	} else {
		mem := data.NewMemoryStore()
		srv.Users, srv.Sessions = mem, mem
		log.Warn("mongo.uri not set, all state is kept in memory and lost on restart")
	}

	var presenceStore presence.Store = presence.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		st.onClose(func(context.Context) error { return rdb.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fail(fmt.Errorf("ping redis: %w", err))
		}
		presenceStore = presence.NewRedisStore(rdb, cfg.Redis.Prefix, 0)

		instance := cfg.App.InstanceID
		if instance == "" {
			instance = uuid.NewString()
		}
		relay := presence.NewRelay(rdb, cfg.Redis.Prefix+":hub", log.Named("relay"))
		h.SetRelay(instance, relay)
		relayCtx, stopRelay := context.WithCancel(context.Background())
		go func() {
			if err := relay.Run(relayCtx, h.Receive); err != nil {
				log.Error("relay stopped", zap.Error(err))
			}
		}()
		st.onClose(func(context.Context) error { stopRelay(); return nil })
		log.Info("redis connected", zap.String("addr", cfg.Redis.Addr), zap.String("instance", instance))
	}

	var emitter events.Emitter = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		p := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log.Named("events"))
		st.onClose(func(context.Context) error { return p.Close() })
		emitter = p
		log.Info("kafka producer ready", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	uploader, err := newUploader(ctx, cfg.Media, log.Named("media"))
	if err != nil {
		return fail(err)
	}
	srv.Uploader = uploader

	socCfg := social.DefaultConfig()
	socCfg.MaxVideoSeconds = cfg.Media.MaxVideoSeconds
	socOpts := []social.Option{social.WithEvents(emitter)}
	if state != nil {
		socOpts = append(socOpts, social.WithStore(state))
	}
	srv.Social = social.NewService(socCfg, srv.Users, h, log.Named("social"), socOpts...)
	st.onClose(srv.Social.Close)
	if err := srv.Social.Restore(ctx); err != nil {
		return fail(err)
	}

	chatOpts := []chat.Option{
		chat.WithBlocks(srv.Social),
		chat.WithDirectory(chat.UserDirectory{Users: srv.Users}),
		chat.WithEvents(emitter),
	}
	if state != nil {
		chatOpts = append(chatOpts, chat.WithStore(state))
	}
	srv.Chat = chat.NewManager(chat.Config{
		TypingWriteInterval: cfg.Chat.TypingWriteInterval(),
		TypingIdle:          cfg.Chat.TypingIdle(),
		TypingStale:         cfg.Chat.TypingStale(),
		MaxVideoSeconds:     cfg.Chat.MaxVideoSeconds,
	}, h, log.Named("chat"), chatOpts...)
	st.onClose(func(context.Context) error { srv.Chat.Close(); return nil })
	if err := srv.Chat.Restore(ctx); err != nil {
		return fail(err)
	}

	roomCfg := room.DefaultConfig()
	roomCfg.Tick = cfg.Room.Tick()
	roomCfg.SwitchCooldown = cfg.Room.SwitchCooldown()
	roomCfg.MinSession = time.Duration(cfg.Room.MinSessionSeconds) * time.Second
	roomCfg.CompletionRatio = cfg.Room.CompletionRatio
	srv.Rooms = room.NewManager(roomCfg, h, log.Named("room"),
		room.WithRecorder(data.StudyLog{Users: srv.Users, Sessions: srv.Sessions}),
		room.WithEvents(emitter))

	srv.Presence = presence.NewTracker(presenceStore, h, log.Named("presence"))

	srv.APILimiter = middleware.NewLimiterStore(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst, time.Minute)
	srv.FrameLimiter = middleware.NewLimiterStore(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst, time.Minute)
	st.onClose(func(context.Context) error {
		srv.APILimiter.Stop()
		srv.FrameLimiter.Stop()
		return nil
	})
	return st, nil
}

func newUploader(ctx context.Context, mc config.MediaConfig, log *zap.Logger) (media.Uploader, error) {
	switch mc.Backend {
	case "cloudinary":
		bs := media.BreakerSettings{
			MaxFailures: mc.BreakerFailures,
			Timeout:     time.Duration(mc.BreakerTimeoutSeconds) * time.Second,
		}
		log.Info("media backend: cloudinary", zap.String("cloud", mc.CloudinaryCloud))
		return media.NewCloudinaryUploader(mc.CloudinaryCloud, mc.CloudinaryPreset, bs, log), nil
	case "s3":
		u, err := media.NewS3Uploader(ctx, mc.S3Region, mc.S3Bucket, log)
		if err != nil {
			return nil, fmt.Errorf("init s3 uploader: %w", err)
		}
		log.Info("media backend: s3", zap.String("bucket", mc.S3Bucket))
		return u, nil
	case "none", "":
		return media.Disabled{}, nil
	}
	return nil, errors.New("unknown media backend " + mc.Backend)
}
