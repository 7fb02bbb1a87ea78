package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/quizmaster/internal/api"
	"github.com/victornm/quizmaster/internal/attempt"
	"github.com/victornm/quizmaster/internal/auth"
	"github.com/victornm/quizmaster/internal/cache"
	"github.com/victornm/quizmaster/internal/catalog"
	"github.com/victornm/quizmaster/internal/jobs"
	"github.com/victornm/quizmaster/internal/notify"
	"github.com/victornm/quizmaster/internal/store"
	"github.com/victornm/quizmaster/internal/task"
	"github.com/victornm/quizmaster/internal/telemetry"
)

const (
	QueueDriverMemory = "memory"
	QueueDriverAMQP   = "amqp"

	MailDriverLog  = "log"
	MailDriverSMTP = "smtp"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	Auth struct {
		Secret   string
		TokenTTL time.Duration
		// Admin is created at startup when no user has its email.
		Admin struct {
			Name     string
			Email    string
			Password string
		}
		RateLimit struct {
			Limit  int
			Window time.Duration
		}
	}

	Mail struct {
		Driver      string
		Host        string
		Port        string
		User        string
		Pass        string
		From        string
		Concurrency int
	}

	Queue struct {
		Driver    string
		URL       string
		Exchange  string
		Name      string
		PoolSize  int
		SoftLimit time.Duration
		HardLimit time.Duration
	}

	Notifications struct {
		SendOnSchedule bool
		Reminders      bool
	}

	Log struct {
		Level  string
		Format string
	}
}

// DefaultConfig is the config used for the values the file and the environment leave out.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Redis.Prefix = cache.DefaultPrefix
	c.Auth.TokenTTL = auth.DefaultTokenTTL
	c.Mail.Driver = MailDriverLog
	c.Queue.Driver = QueueDriverMemory
	c.Queue.Exchange = "quizmaster.tasks"
	c.Queue.Name = "quizmaster.tasks"
	c.Notifications.SendOnSchedule = true
	c.Notifications.Reminders = true
	c.Log.Level = "info"
	c.Log.Format = "text"
	return c
}

type Server struct {
	c Config

	ctx    context.Context
	cancel context.CancelFunc

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
		broker   *task.Broker
	}

	queue     *task.Queue
	enqueuer  api.Enqueuer
	scheduler *jobs.Scheduler

	service struct {
		store   *store.Store
		cache   *cache.Cache
		auth    *auth.Service
		attempt *attempt.Service
		catalog *catalog.Service
		jobs    *jobs.Jobs
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

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

	if s.c.Queue.Driver == QueueDriverAMQP {
		b, err := task.DialAMQP(task.AMQPConfig{
			URL:      s.c.Queue.URL,
			Exchange: s.c.Queue.Exchange,
			Queue:    s.c.Queue.Name,
		})
		if err != nil {
			return fmt.Errorf("amqp: %w", err)
		}
		s.infra.broker = b
	}

	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	// The cache degrades to a pass-through when Redis is down, so a failed ping is not fatal.
	if err := r.Ping(ctx).Err(); err != nil {
		slog.WarnContext(ctx, "server: redis ping failed", "addrs", s.c.Redis.Addrs, "error", err)
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := s.c.Postgres
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", p.User, p.Pass, p.Addr, p.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() error {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	s.service.store = store.New(store.Config{DB: s.infra.postgres})
	if err := s.service.store.Migrate(ctx); err != nil {
		return err
	}

	s.service.cache = cache.New(cache.Config{
		Redis:  s.infra.redis,
		Prefix: s.c.Redis.Prefix,
	})

	sessions := cache.NewSessions(cache.SessionConfig{
		Redis: s.infra.redis,
		TTL:   s.c.Auth.TokenTTL,
	})

	s.queue = task.NewQueue(task.Config{
		PoolSize:  s.c.Queue.PoolSize,
		SoftLimit: s.c.Queue.SoftLimit,
		HardLimit: s.c.Queue.HardLimit,
	})
	s.enqueuer = s.queue
	if s.infra.broker != nil {
		s.enqueuer = s.infra.broker
	}

	s.service.jobs = jobs.New(jobs.Config{
		Store: s.service.store,
		Cache: s.service.cache,
		Dispatcher: notify.NewDispatcher(notify.DispatcherConfig{
			Mailer:      s.mailer(),
			Concurrency: s.c.Mail.Concurrency,
		}),
		Enqueuer: s.enqueuer,
	})
	s.service.jobs.Register(s.queue)

	entries := jobs.DefaultEntries()
	if !s.c.Notifications.Reminders {
		entries = withoutTask(entries, jobs.TaskScheduledReminders)
	}
	s.scheduler = jobs.NewScheduler(jobs.SchedulerConfig{
		Enqueuer: s.enqueuer,
		Entries:  entries,
	})

	s.service.auth = auth.NewService(auth.Config{
		Store:    s.service.store,
		Sessions: sessions,
		Secret:   []byte(s.c.Auth.Secret),
		TokenTTL: s.c.Auth.TokenTTL,
	})

	admin := s.c.Auth.Admin
	if err := s.service.auth.EnsureAdmin(ctx, auth.AdminSeed{Name: admin.Name, Email: admin.Email, Password: admin.Password}); err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}

	s.service.attempt = attempt.NewService(attempt.Config{
		Store:    s.service.store,
		Sessions: sessions,
		Cache:    s.service.cache,
	})

	s.service.catalog = catalog.NewService(catalog.Config{
		Store:            s.service.store,
		Cache:            s.service.cache,
		Enqueuer:         s.enqueuer,
		NotifyOnSchedule: s.c.Notifications.SendOnSchedule,
	})

	return nil
}

func (s *Server) mailer() notify.Mailer {
	if s.c.Mail.Driver != MailDriverSMTP {
		return notify.LogMailer{}
	}

	return notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     s.c.Mail.Host,
		Port:     s.c.Mail.Port,
		Username: s.c.Mail.User,
		Password: s.c.Mail.Pass,
		From:     s.c.Mail.From,
	})
}

func withoutTask(entries []jobs.Entry, name string) []jobs.Entry {
	out := make([]jobs.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Task != name {
			out = append(out, e)
		}
	}
	return out
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.GinMiddleware())

	api.New(api.Config{
		Auth:     s.service.auth,
		Attempts: s.service.attempt,
		Catalog:  s.service.catalog,
		Tasks:    s.queue,
		Enqueuer: s.enqueuer,
		Limiter: cache.NewRateLimiter(cache.RateLimiterConfig{
			Redis: s.infra.redis,
		}),
		AuthLimit:  s.c.Auth.RateLimit.Limit,
		AuthWindow: s.c.Auth.RateLimit.Window,
	}).Register(e)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}

	s.grpc = grpc.NewServer(telemetry.GRPCServerOptions()...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
}

func (s *Server) Start() {
	ctx := s.ctx

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		return s.scheduler.Run(ctx)
	})

	if s.infra.broker != nil {
		eg.Go(func() error {
			slog.InfoContext(ctx, "server: consuming tasks", "queue", s.c.Queue.Name)
			return s.infra.broker.Consume(ctx, s.queue)
		})
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.cancel()

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.queue.Stop()

	if s.infra.broker != nil {
		if err := s.infra.broker.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close amqp failed", "error", err)
		}
	}

	s.infra.postgres.Close()
	if err := s.infra.redis.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis failed", "error", err)
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
