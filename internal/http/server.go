package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"replaylog/pkg/flow"
	"replaylog/pkg/replay"
)

const (
	contentTypeJSON        = "application/json"
	contentTypeNDJSON      = "application/x-ndjson"
	contentTypeText        = "text/plain; charset=utf-8"
	defaultHTTPPort        = "8080"
	defaultShutdownTimeout = time.Second * 5
	maxValueBytes          = 1 << 20
)

// Value is a JSON document as it was posted.
type Value = json.RawMessage

type iJournal interface {
	Name() string
	Append(ctx context.Context, v Value) error
	RetrieveHistory() flow.Stream[replay.Timed[Value]]
	ReplayHistory(opts ...replay.Option) *replay.Flux[replay.Timed[Value]]
}

type iMetrics interface {
	WriteText(w io.Writer) error
}

// ReplayDefaults apply to /api/replay parameters the client left out.
type ReplayDefaults struct {
	Acceleration float64
	LoopDelay    time.Duration
}

type Option func(*Server)

func WithMetrics(m iMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithReplayDefaults(d ReplayDefaults) Option {
	return func(s *Server) { s.replayDefaults = d }
}

func WithTimeouts(readHeader, shutdown time.Duration) Option {
	return func(s *Server) {
		if readHeader > 0 {
			s.readHeaderTimeout = readHeader
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

func WithReplayOptions(opts ...replay.Option) Option {
	return func(s *Server) { s.replayOpts = append(s.replayOpts, opts...) }
}

// Server exposes a journal over HTTP.
type Server struct {
	journal        iJournal
	metrics        iMetrics
	replayDefaults ReplayDefaults
	replayOpts     []replay.Option

	readHeaderTimeout time.Duration
	shutdownTimeout   time.Duration

	httpServer *http.Server
	URL        string
	addr       string
}

// NewServer creates a new server instance
func NewServer(journal iJournal, port string, opts ...Option) *Server {
	if port == "" {
		port = defaultHTTPPort
	}
	s := &Server{
		journal:           journal,
		replayDefaults:    ReplayDefaults{Acceleration: 1},
		readHeaderTimeout: time.Second,
		shutdownTimeout:   defaultShutdownTimeout,
		URL:               "http://localhost:" + port,
		addr:              ":" + port,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the server
func (s *Server) Start() error {
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	return nil
}

// createRouter builds chi router
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Route("/api", func(r chi.Router) {
		r.Post("/values", s.handleAppend)
		r.Get("/history", s.handleHistory)
		r.Get("/replay", s.handleReplay)
	})

	return r
}

func (s *Server) startHTTPServer() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: s.readHeaderTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL, "journal", s.journal.Name())
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentTypeText)
	if s.metrics == nil {
		_, _ = io.WriteString(w, "# replaylog metrics\n")
		return
	}
	if err := s.metrics.WriteText(w); err != nil {
		slog.Warn("Failed to write metrics response", "error", err)
	}
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, http.StatusRequestEntityTooLarge, NewErrorResponse("Value too large"))
			return
		}
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to read body"))
		return
	}

	if len(body) == 0 || !json.Valid(body) {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Body must be a JSON value"))
		return
	}

	if err := s.journal.Append(r.Context(), Value(body)); err != nil {
		slog.Error("Failed to append value", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}

	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	writeNDJSON(w, r, s.journal.RetrieveHistory(), limit, func(v replay.Timed[Value]) any {
		return NewEntry(v, nil)
	})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseReplayQuery(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	flux, err := s.journal.ReplayHistory(s.replayOpts...).WithTimeAcceleration(q.acceleration)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	if !q.loop {
		writeNDJSON(w, r, flux.Stream(), q.limit, func(v replay.Timed[Value]) any {
			return NewEntry(v, nil)
		})
		return
	}

	writeNDJSON(w, r, flux.InLoopWithDelay(q.delay), q.limit, func(v replay.ReplayValue[replay.Timed[Value]]) any {
		restart := v.Restart
		return NewEntry(v.Value, &restart)
	})
}

type replayQuery struct {
	acceleration float64
	loop         bool
	delay        time.Duration
	limit        int
}

func (s *Server) parseReplayQuery(r *http.Request) (replayQuery, error) {
	q := replayQuery{acceleration: s.replayDefaults.Acceleration, delay: s.replayDefaults.LoopDelay}
	values := r.URL.Query()

	if v := values.Get("acceleration"); v != "" {
		a, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return q, fmt.Errorf("invalid acceleration %q", v)
		}
		q.acceleration = a
	}
	if v := values.Get("loop"); v != "" {
		loop, err := strconv.ParseBool(v)
		if err != nil {
			return q, fmt.Errorf("invalid loop %q", v)
		}
		q.loop = loop
	}
	if v := values.Get("delay"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return q, fmt.Errorf("invalid delay %q", v)
		}
		q.delay = d
	}

	limit, err := intParam(r, "limit", 0)
	if err != nil {
		return q, err
	}
	q.limit = limit

	return q, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

// writeNDJSON streams s as one JSON document per line, pulling one element
// per write. It stops after limit elements when limit is positive, and when
// the client goes away.
func writeNDJSON[T any](w http.ResponseWriter, r *http.Request, s flow.Stream[T], limit int, render func(T) any) {
	ctx := r.Context()
	sub := s.Subscribe(ctx)
	defer sub.Cancel()

	w.Header().Set("Content-Type", contentTypeNDJSON)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	for n := 0; limit <= 0 || n < limit; n++ {
		v, ok, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("Stream failed", "stream", s.Name(), "error", err)
				_ = enc.Encode(NewErrorResponse(err.Error()))
			}
			return
		}
		if !ok {
			return
		}
		if err := enc.Encode(render(v)); err != nil {
			slog.Warn("Failed to write stream element", "stream", s.Name(), "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
