package main

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"evroute/internal/api"
	"evroute/internal/buildinfo"
	"evroute/internal/config"
	"evroute/internal/logging"
	"evroute/internal/metrics"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("load env: %v", err)
	}
	cfg, err := config.Load(os.Getenv("ALNS_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	metrics.RegisterDefault()

	srvDeps, err := api.NewServer(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to init server")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           logMiddleware(logger, srvDeps.Routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			logger.WithError(err).Warn("http shutdown")
		}
		if err := srvDeps.Shutdown(shutdown); err != nil {
			logger.WithError(err).Warn("runs did not stop in time")
		}
	}()

	logger.WithFields(log.Fields{"addr": srv.Addr, "version": buildinfo.Version}).Info("API listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("server error")
	}
	<-stopped
	logger.Info("server stopped")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

func logMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)

		path := metricPath(r.URL.Path)
		code := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(dur.Seconds())
		logger.WithFields(log.Fields{
			"remote":   r.RemoteAddr,
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": dur.String(),
		}).Debug("request")
	})
}

// metricPath replaces run ids with a placeholder to bound label cardinality.
func metricPath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		if _, err := uuid.Parse(s); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}
