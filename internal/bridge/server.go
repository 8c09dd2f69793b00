// Package bridge exposes the engine over HTTP: remote schedulers post
// goal-state events, external executors report attempt results, operators
// approve and cancel runs, and health checks probe liveness. Events
// accepted here feed the shared state bus.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gantryci/gantry/internal/compiler"
	"github.com/gantryci/gantry/internal/config"
	"github.com/gantryci/gantry/internal/scheduler"
	"github.com/gantryci/gantry/internal/statebus"
)

const (
	// DefaultMaxBodyBytes limits request payloads to 1 MB.
	DefaultMaxBodyBytes int64 = 1 << 20
	// DefaultReadTimeout guards hung clients.
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds handler writes.
	DefaultWriteTimeout = 15 * time.Second
	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = 60 * time.Second
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// Settings captures runtime configuration for the bridge server.
type Settings struct {
	Host         string
	Port         int
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SettingsFromConfig builds Settings from the resolved project config.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := Settings{
		MaxBodyBytes: DefaultMaxBodyBytes,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		IdleTimeout:  DefaultIdleTimeout,
	}
	if cfg != nil {
		settings.Host = strings.TrimSpace(cfg.Project.Bridge.Host)
		settings.Port = cfg.Project.Bridge.Port
		if cfg.Project.Bridge.MaxBodyBytes > 0 {
			settings.MaxBodyBytes = cfg.Project.Bridge.MaxBodyBytes
		}
	}
	if settings.Host == "" {
		settings.Host = "127.0.0.1"
	}
	return settings
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, fmt.Sprintf("%d", s.Port))
}

// EventSink receives accepted goal-state events. *statebus.Bus satisfies
// it.
type EventSink interface {
	Publish(statebus.Event)
}

// RunControl routes approvals, cancellations, and externally reported
// attempt results to active runs.
type RunControl interface {
	Approve(ctx context.Context, runID string, instance compiler.InstanceID, kind, actor string) error
	Cancel(ctx context.Context, runID string) error
	HandleResult(ctx context.Context, runID string, instance compiler.InstanceID, res scheduler.RunResult) error
}

// Logger records bridge diagnostics.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

type nopControl struct{}

func (nopControl) Approve(context.Context, string, compiler.InstanceID, string, string) error {
	return errors.New("bridge: no run controller attached")
}

func (nopControl) Cancel(context.Context, string) error {
	return errors.New("bridge: no run controller attached")
}

func (nopControl) HandleResult(context.Context, string, compiler.InstanceID, scheduler.RunResult) error {
	return errors.New("bridge: no run controller attached")
}

// Server wraps the HTTP listener and handlers backing the event bridge.
type Server struct {
	settings Settings
	sink     EventSink
	control  RunControl
	logger   Logger
	clock    func() time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithSink attaches the event destination for accepted events.
func WithSink(sink EventSink) Option {
	return func(s *Server) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithControl attaches the approval/cancellation controller.
func WithControl(control RunControl) Option {
	return func(s *Server) {
		if control != nil {
			s.control = control
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

type discardSink struct{}

func (discardSink) Publish(statebus.Event) {}

// NewServer prepares a bridge server using the provided settings.
func NewServer(settings Settings, opts ...Option) *Server {
	s := &Server{
		settings: settings,
		sink:     discardSink{},
		control:  nopControl{},
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("bridge: server is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("bridge: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()

	router := chi.NewRouter()
	router.Get("/health", s.handleHealth)
	router.Post("/events", s.handleEvents)
	router.Post("/approvals", s.handleApprovals)
	router.Post("/cancel", s.handleCancel)
	router.Post("/results", s.handleResults)

	server := &http.Server{
		Handler:      router,
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("bridge: serve error: %v", err)
		}
	}()
	s.logger.Printf("bridge: listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight
// requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return "http://" + s.settings.Address()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(time.Since(s.startTime).Seconds())
}

type healthResponse struct {
	Status        string `json:"status"`
	SchemaVersion int    `json:"schema_version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type eventResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        string(s.Status()),
		SchemaVersion: statebus.EventSchemaVersion,
		UptimeSeconds: s.uptimeSeconds(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := validateEventPayload(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var event statebus.Event
	if err := json.Unmarshal(body, &event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	event.Normalize()
	event.StampTimestamp(s.now())
	if err := event.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.sink.Publish(event)
	writeJSON(w, http.StatusAccepted, eventResponse{Status: "accepted", Timestamp: event.Timestamp})
}

type approvalRequest struct {
	RunID    string `json:"run_id"`
	Instance string `json:"instance"`
	Kind     string `json:"kind"`
	Actor    string `json:"actor,omitempty"`
}

func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req approvalRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.RunID == "" || req.Instance == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "run_id and instance are required"})
		return
	}
	if req.Kind != "pre" && req.Kind != "post" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind must be 'pre' or 'post'"})
		return
	}
	if err := s.control.Approve(r.Context(), req.RunID, compiler.InstanceID(req.Instance), req.Kind, req.Actor); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

type cancelRequest struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.RunID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "run_id is required"})
		return
	}
	if err := s.control.Cancel(r.Context(), req.RunID); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

type resultRequest struct {
	RunID    string            `json:"run_id"`
	Instance string            `json:"instance"`
	Outcome  string            `json:"outcome"`
	Message  string            `json:"message,omitempty"`
	Outputs  map[string]string `json:"outputs,omitempty"`
}

// handleResults accepts attempt results from executors that run goals out
// of process instead of reporting through an in-process callback.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req resultRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.RunID == "" || req.Instance == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "run_id and instance are required"})
		return
	}
	outcome := scheduler.Outcome(req.Outcome)
	if outcome != scheduler.OutcomeSuccess && outcome != scheduler.OutcomeFailed {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "outcome must be 'success' or 'failed'"})
		return
	}
	res := scheduler.RunResult{
		Outcome:        outcome,
		OutputBindings: req.Outputs,
		Message:        req.Message,
	}
	if err := s.control.HandleResult(r.Context(), req.RunID, compiler.InstanceID(req.Instance), res); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty body"})
		return nil, false
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unable to read body"})
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
