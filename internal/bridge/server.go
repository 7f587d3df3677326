package bridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cptbot/internal/eventbus"
	"cptbot/internal/metrics"
	"cptbot/internal/transport"
	logx "cptbot/pkg/logx"
)

type Config struct {
	Addr   string // listen address, e.g. ":8081"
	Secret string // shared bearer token for /api/notify
}

// NotifyEvent is published on the bus for every bridge delivery attempt,
// consumed by the history recorder.
type NotifyEvent struct {
	ChannelID string
	OK        bool
	Error     string // empty on success
}

// Server is the inbound HTTP bridge: the event-management system pushes
// ad-hoc notifications through it into the chat adapter. It also exposes
// /metrics and /healthz.
type Server struct {
	cfg     Config
	adapter transport.Adapter
	bus     eventbus.Bus // optional, may be nil
	log     logx.Logger

	server *http.Server
	errCh  chan error
}

func NewServer(cfg Config, adapter transport.Adapter, bus eventbus.Bus, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:     cfg,
		adapter: adapter,
		bus:     bus,
		log:     log,
		errCh:   make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/notify", s.handleNotify)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening. Listen failures surface on the returned channel
// rather than as a panic inside the goroutine.
func (s *Server) Start() <-chan error {
	if strings.TrimSpace(s.cfg.Secret) == "" {
		s.log.Warn("bridge secret is empty, all /api/notify requests will be rejected")
	}
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
	}()
	s.log.Info("event bridge api started", logx.String("addr", s.cfg.Addr))
	return s.errCh
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// flexString accepts a JSON string or number; the event manager has sent both.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = []byte(strings.TrimSpace(string(b)))
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type notifyRequest struct {
	ChannelID flexString       `json:"channel_id"`
	Message   string           `json:"message"`
	Embed     *transport.Embed `json:"embed"`
	RoleID    flexString       `json:"role_id"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	log := s.log.With(logx.String("req_id", reqID), logx.String("remote", r.RemoteAddr))

	if !s.authorized(r) {
		log.Warn("unauthorized bridge request")
		s.respond(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("bad bridge payload", logx.Err(err))
		s.respond(w, http.StatusBadRequest, map[string]string{"error": "Bad Request"})
		return
	}

	channelID := strings.TrimSpace(string(req.ChannelID))
	if channelID == "" {
		s.respond(w, http.StatusBadRequest, map[string]string{"error": "channel_id is required"})
		return
	}
	log = log.With(logx.String("channel", channelID))
	log.Info("received bridge notification request")

	if err := s.adapter.ResolveChannel(r.Context(), channelID); err != nil {
		if errors.Is(err, transport.ErrChannelNotFound) {
			log.Error("bridge target channel not found")
			s.respond(w, http.StatusNotFound, map[string]string{"error": "Channel not found"})
			return
		}
		log.Error("bridge channel lookup failed", logx.Err(err))
		s.respond(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}

	message := req.Message
	if roleID := strings.TrimSpace(string(req.RoleID)); roleID != "" {
		message = transport.RoleMention(roleID) + " " + message
	}

	err := s.adapter.SendMessage(r.Context(), transport.ChatTarget{ChannelID: channelID}, transport.Message{
		Content: message,
		Embed:   req.Embed,
	})
	s.recordSend(channelID, err)
	if err != nil {
		// Generic body only; internal error text never leaves the process.
		log.Error("bridge notification dispatch failed", logx.Err(err))
		s.respond(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}

	log.Info("bridge notification sent")
	s.respond(w, http.StatusOK, map[string]string{"status": "ok", "message": "Notification sent"})
}

func (s *Server) authorized(r *http.Request) bool {
	secret := strings.TrimSpace(s.cfg.Secret)
	if secret == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	want := "Bearer " + secret
	return subtle.ConstantTimeCompare([]byte(header), []byte(want)) == 1
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	metrics.BridgeRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) recordSend(channelID string, sendErr error) {
	if s.bus == nil {
		return
	}
	ev := NotifyEvent{ChannelID: channelID, OK: sendErr == nil}
	if sendErr != nil {
		ev.Error = sendErr.Error()
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeBridgeNotify, Data: ev})
}
