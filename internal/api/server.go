package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"evroute/internal/config"
	"evroute/internal/store"
	"evroute/internal/webhooks"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Store  store.Store
	Broker EventBroker
	Config config.Config
	Log    logrus.FieldLogger

	// Notifier is nil unless a webhook URL is configured.
	Notifier *webhooks.Notifier

	sem     chan struct{} // one slot per executing run
	wg      sync.WaitGroup
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closers []io.Closer
	pingers []pinger
}

// New wires a Server around an existing store and broker.
func New(cfg config.Config, st store.Store, b EventBroker, log logrus.FieldLogger) *Server {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	n := cfg.MaxRuns
	if n < 1 {
		n = 1
	}
	s := &Server{
		Store:   st,
		Broker:  b,
		Config:  cfg,
		Log:     log,
		sem:     make(chan struct{}, n),
		cancels: map[string]context.CancelFunc{},
	}
	if cfg.WebhookURL != "" {
		s.Notifier = webhooks.NewNotifier(cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookMaxAttempts)
		s.Notifier.Log = log.WithField("component", "webhooks")
	}
	return s
}

// NewServer creates a Server. If DatabaseURL is unset, uses the in-memory
// store; if RedisURL is unset, uses the in-process broker.
func NewServer(cfg config.Config, log logrus.FieldLogger) (*Server, error) {
	var (
		st      store.Store
		closers []io.Closer
		pingers []pinger
	)
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.DBMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := pg.Migrate(ctx)
			cancel()
			if err != nil {
				_ = pg.Close()
				return nil, err
			}
		}
		st = pg
		closers = append(closers, pg)
		pingers = append(pingers, pg)
	}

	var broker EventBroker = NewBroker()
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err != nil {
			if log != nil {
				log.WithError(err).Warn("redis broker unavailable, using in-process broker")
			}
		} else {
			broker = rb
			closers = append(closers, rb)
			pingers = append(pingers, rb)
		}
	}

	s := New(cfg, st, broker, log)
	s.closers = closers
	s.pingers = pingers
	return s, nil
}

// Routes registers every endpoint on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Runs
	mux.HandleFunc("/v1/runs", s.RunsHandler)
	mux.HandleFunc("/v1/runs/", s.RunByIDHandler) // includes /iterations, /stream, /cancel

	// Health and introspection
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/v1/debug", s.DebugJSON)
	mux.Handle("/metrics", MetricsHandler())
	return mux
}

// Shutdown cancels executing runs and waits for them to record their final
// state, or until ctx is done. Store and broker connections are closed
// afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	for _, c := range s.closers {
		_ = c.Close()
	}
	return err
}

func (s *Server) track(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.cancels, id)
	s.mu.Unlock()
}

// cancelRun reports whether id was executing on this server.
func (s *Server) cancelRun(id string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
