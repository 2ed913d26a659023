// Package gateway exposes the chat and insight endpoints over HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/eyecheck/gateway/pkg/cache"
	"github.com/eyecheck/gateway/pkg/config"
	"github.com/eyecheck/gateway/pkg/conversation"
	"github.com/eyecheck/gateway/pkg/identity"
	"github.com/eyecheck/gateway/pkg/kvstore"
	"github.com/eyecheck/gateway/pkg/locale"
	"github.com/eyecheck/gateway/pkg/metrics"
	"github.com/eyecheck/gateway/pkg/pipeline"
	"github.com/eyecheck/gateway/pkg/ratelimit"
	"github.com/eyecheck/gateway/pkg/safety"
	"github.com/eyecheck/gateway/pkg/stream"
	"github.com/eyecheck/gateway/pkg/telemetry"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 256 << 10

// Deps are the services the gateway is assembled from.
type Deps struct {
	Store         kvstore.Store
	Limiter       *ratelimit.Limiter
	Safety        *safety.Gate
	Conversations *conversation.Store
	Pipeline      *pipeline.Pipeline
	Responder     *stream.Responder
	Identity      *identity.Resolver
	Usage         *telemetry.Async
	Metrics       *metrics.Metrics
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Log      logrus.FieldLogger
}

// Server is the eyegate HTTP surface.
type Server struct {
	cfg      *config.Config
	deps     Deps
	log      logrus.FieldLogger
	insights *cache.Cache[any]
	flight   singleflight.Group
	handler  http.Handler
}

// New creates a Server wired with all dependencies.
func New(cfg *config.Config, d Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: d,
		log:  d.Log,
		insights: cache.New[any](d.Store, "insight",
			cache.WithLogger(d.Log), cache.WithMetrics(d.Metrics)),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	for _, in := range insights {
		if ttl := cfg.Insights.TTL[in.name]; ttl > 0 {
			in.ttl = ttl
		}
		mux.HandleFunc("POST /v1/"+in.name, s.handleInsight(in))
	}
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if d.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	s.handler = s.withRequestID(mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.Listen).Info("eyegate listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutCtx)
		s.deps.Usage.Wait()
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type ctxKey struct{}

// withRequestID tags every request with an X-Request-ID, reusing the
// caller's when present.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
		s.log.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"elapsed":    time.Since(start).Round(time.Millisecond),
		}).Debug("request served")
	})
}

// requestLog returns a logger carrying the request id.
func (s *Server) requestLog(r *http.Request) logrus.FieldLogger {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return s.log.WithField("request_id", id)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// admit applies the rate limit for endpoint and writes the 429 response when
// the caller is over it.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, id identity.Identity, endpoint, loc string) bool {
	d := s.deps.Limiter.Admit(r.Context(), id.Key(), endpoint)
	if d.Allowed {
		return true
	}
	s.requestLog(r).WithError(d.Err()).WithField("client", id.Key()).Debug("request rejected")
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", fmt.Sprint(secs))
	writeJSONError(w, http.StatusTooManyRequests, locale.T(loc, locale.RateLimited))
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"eyegate_error","code":%d}}`, message, code)
}
