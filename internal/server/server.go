package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Temur101/dictionary/internal/api"
	"github.com/Temur101/dictionary/internal/event"
	"github.com/Temur101/dictionary/internal/game"
	"github.com/Temur101/dictionary/internal/stats"
	"github.com/Temur101/dictionary/internal/telemetry"
	"github.com/Temur101/dictionary/internal/word"
)

type Config struct {
	HTTP struct {
		Port int32 `validate:"required"`
	}

	Auth struct {
		Secret string `validate:"required"`
	}

	Game struct {
		FeedbackDelayMillis int
		QuestionSeconds     int
	}

	Redis struct {
		History struct {
			Addrs  []string `validate:"required,min=1"`
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string `validate:"required,min=1"`
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Game struct {
			Addr string `validate:"required"`
			User string
			Pass string
			Name string
		}

		Dictionary struct {
			Addr string `validate:"required"`
			User string
			Pass string
			Name string
		}
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			history redis.UniversalClient
			pubsub  redis.UniversalClient
		}

		postgres struct {
			game       *pgxpool.Pool
			dictionary *pgxpool.Pool
		}
	}

	service struct {
		word  *word.Service
		game  *game.Service
		stats *stats.Service
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.history, err = connect(s.c.Redis.History.Addrs, s.c.Redis.History.Pass)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(addr, user, pass, name string) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, addr, name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	s.infra.postgres.game, err = connect(s.c.Postgres.Game.Addr, s.c.Postgres.Game.User, s.c.Postgres.Game.Pass, s.c.Postgres.Game.Name)
	if err != nil {
		return fmt.Errorf("postgres: game: %w", err)
	}

	s.infra.postgres.dictionary, err = connect(s.c.Postgres.Dictionary.Addr, s.c.Postgres.Dictionary.User, s.c.Postgres.Dictionary.Pass, s.c.Postgres.Dictionary.Name)
	if err != nil {
		return fmt.Errorf("postgres: dictionary: %w", err)
	}

	return nil
}

func (s *Server) initService() {
	s.service.word = word.NewService(word.Config{
		DB: s.infra.postgres.dictionary,
	})

	s.service.game = game.NewService(game.Config{
		Store:         game.NewStore(s.infra.postgres.game),
		Words:         s.service.word,
		EventBus:      s.eb,
		FeedbackDelay: time.Duration(s.c.Game.FeedbackDelayMillis) * time.Millisecond,
		QuestionTime:  time.Duration(s.c.Game.QuestionSeconds) * time.Second,
	})

	s.service.stats = stats.NewService(stats.Config{
		EventBus: s.eb,
		Sessions: game.NewStore(s.infra.postgres.game),
		Redis:    s.infra.redis.history,
		Prefix:   s.c.Redis.History.Prefix,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())
	e.Use(telemetry.HTTPLogger(slog.Default()))

	api.New(api.Config{
		Engine:       e,
		EventBus:     s.eb,
		Game:         s.service.game,
		Stats:        s.service.stats,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
		AuthSecret:   s.c.Auth.Secret,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	slog.InfoContext(ctx, "server: shutdown completed")
}
