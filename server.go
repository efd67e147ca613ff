package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"i4.energy/across/nbiot/metrics"
	"i4.energy/across/nbiot/modem"
)

// pingInterval is how often idle websocket clients are pinged.
const pingInterval = 30 * time.Second

// Gateway is the part of the modem driver the server needs.
type Gateway interface {
	modem.RadioDriver
	BringUpState() string
}

// DatagramConn moves datagrams through the modem, see modem.UDPConn.
type DatagramConn interface {
	WriteTo(ctx context.Context, p []byte, addr netip.AddrPort) (int, error)
	ReadFrom(ctx context.Context, p []byte) (int, netip.AddrPort, error)
	Close(ctx context.Context) error
}

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger  *slog.Logger
	Modem   Gateway
	UDP     DatagramConn
	Metrics *metrics.Metrics
	// MetricsHandler serves /metrics when set
	MetricsHandler http.Handler
	// PollInterval is how often websocket streams poll for datagrams
	PollInterval time.Duration
	// AutoConnect selects ConnectAuto for bring-ups without an explicit mode
	AutoConnect bool

	// mu serializes access to the modem, which handles one command at a time
	mu        sync.Mutex
	connected atomic.Bool

	once     sync.Once
	router   *mux.Router
	upgrader websocket.Upgrader

	// ctx is canceled by Close to end the datagram streams
	ctx       context.Context
	cancel    context.CancelFunc
	streamsMu sync.Mutex
	streams   sync.WaitGroup
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(s.routes)
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := mux.NewRouter()

	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/signal", s.handleSignal).Methods(http.MethodGet)
	r.HandleFunc("/connect", s.handleConnect).Methods(http.MethodPost)

	udp := r.PathPrefix("/udp").Subrouter()
	udp.HandleFunc("/send", s.handleSend).Methods(http.MethodPost)
	udp.HandleFunc("/recv", s.handleReceive).Methods(http.MethodGet)

	r.HandleFunc("/ws/datagrams", s.handleDatagramStream)

	if s.MetricsHandler != nil {
		r.Handle("/metrics", s.MetricsHandler).Methods(http.MethodGet)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	s.router = r
}

// BringUp runs the configured bring-up, records the outcome and returns
// the state it ended in.
func (s *Server) BringUp(ctx context.Context, auto bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if auto {
		err = s.Modem.ConnectAuto(ctx)
	} else {
		err = s.Modem.Connect(ctx)
	}

	s.connected.Store(err == nil)
	if s.Metrics != nil {
		s.Metrics.ObserveBringUp(err)
	}
	return s.Modem.BringUpState(), err
}

// Close ends the datagram streams, waits for them to stop polling and then
// closes the UDP socket. Call it after http.Server.Shutdown; the modem
// itself is left open.
func (s *Server) Close(ctx context.Context) error {
	s.once.Do(s.routes)

	s.streamsMu.Lock()
	s.cancel()
	s.streamsMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("waiting for datagram streams: %w", ctx.Err())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.UDP.Close(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(waitErr, fmt.Errorf("close socket: %w", err))
	}
	return waitErr
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	s.sendJSON(w, ErrorResponse{Message: message}, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Debug("Failed to write response", "error", err)
	}
}

// statusFor maps a driver error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, modem.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, modem.ErrInvalidAddress), errors.Is(err, modem.ErrInvalidAPN):
		return http.StatusBadRequest
	case errors.Is(err, modem.ErrAlreadyClosed), errors.Is(err, modem.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// handleStatus reports the bring-up state and whether the modem is attached
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type StatusResponse struct {
		State     string `json:"state"`
		BroughtUp bool   `json:"brought_up"`
		Attached  bool   `json:"attached"`
	}

	s.mu.Lock()
	attached, err := s.Modem.IsConnected(r.Context())
	state := s.Modem.BringUpState()
	s.mu.Unlock()

	if err != nil {
		s.Logger.Error("Failed to query attach state", "error", err)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}

	s.sendJSON(w, StatusResponse{
		State:     state,
		BroughtUp: s.connected.Load(),
		Attached:  attached,
	}, http.StatusOK)
}

// handleSignal reports the current signal quality
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	signal, err := s.Modem.SignalQuality(r.Context())
	s.mu.Unlock()

	if err != nil {
		s.Logger.Error("Failed to query signal quality", "error", err)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	if s.Metrics != nil {
		s.Metrics.Signal.Set(float64(signal.RSSI))
	}

	s.sendJSON(w, signal, http.StatusOK)
}

// handleConnect runs a bring-up. The body is optional; {"auto": true}
// waits for autonomous attach instead of the full sequence.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	type ConnectRequest struct {
		Auto *bool `json:"auto"`
	}

	var req ConnectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	auto := s.AutoConnect
	if req.Auto != nil {
		auto = *req.Auto
	}

	state, err := s.BringUp(r.Context(), auto)
	if err != nil {
		s.Logger.Error("Bring-up failed", "error", err, "auto", auto, "state", state)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}

	s.Logger.Info("Modem attached", "auto", auto, "state", state)
	w.WriteHeader(http.StatusNoContent)
}

// handleSend processes incoming HTTP POST requests to send a datagram
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	type SendRequest struct {
		To      string `json:"to"`
		Payload []byte `json:"payload"`
	}
	type SendResponse struct {
		Sent int `json:"sent"`
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.To == "" || len(req.Payload) == 0 {
		s.sendError(w, "both 'to' and 'payload' fields are required", http.StatusBadRequest)
		return
	}

	to, err := netip.ParseAddrPort(req.To)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	n, err := s.UDP.WriteTo(r.Context(), req.Payload, to)
	s.mu.Unlock()

	if err != nil {
		s.Logger.Error("Failed to send datagram", "error", err, "to", req.To)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	if s.Metrics != nil {
		s.Metrics.ObserveDatagram("tx", n)
	}

	s.Logger.Info("Datagram sent", "to", req.To, "length", len(req.Payload), "sent", n)
	s.sendJSON(w, SendResponse{Sent: n}, http.StatusOK)
}

// datagramMessage is a received datagram as served over HTTP and websocket.
type datagramMessage struct {
	From    string `json:"from"`
	Length  int    `json:"length"`
	Payload []byte `json:"payload"`
}

// receive reads one pending datagram, if any.
func (s *Server) receive(ctx context.Context) (*datagramMessage, error) {
	buf := make([]byte, modem.MaxDatagramSize)

	s.mu.Lock()
	n, from, err := s.UDP.ReadFrom(ctx, buf)
	s.mu.Unlock()

	if err != nil || n == 0 {
		return nil, err
	}
	if s.Metrics != nil {
		s.Metrics.ObserveDatagram("rx", n)
	}
	return &datagramMessage{From: from.String(), Length: n, Payload: buf[:n]}, nil
}

// handleReceive returns one pending datagram, or 204 when there is none
func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	msg, err := s.receive(r.Context())
	if err != nil {
		s.Logger.Error("Failed to receive datagram", "error", err)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.sendJSON(w, msg, http.StatusOK)
}

// handleDatagramStream pushes received datagrams to a websocket client
func (s *Server) handleDatagramStream(w http.ResponseWriter, r *http.Request) {
	s.streamsMu.Lock()
	if s.ctx.Err() != nil {
		s.streamsMu.Unlock()
		s.sendError(w, "server is closing", http.StatusServiceUnavailable)
		return
	}
	s.streams.Add(1)
	s.streamsMu.Unlock()
	defer s.streams.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Error("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.Logger.Info("WebSocket client connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	// Drain control frames so closes from the client are noticed
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	interval := s.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	poll := time.NewTicker(interval)
	defer poll.Stop()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("WebSocket client disconnected", "remote", r.RemoteAddr)
			return
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Logger.Info("WebSocket client disconnected", "remote", r.RemoteAddr, "error", err)
				return
			}
		case <-poll.C:
			msg, err := s.receive(ctx)
			if err != nil {
				s.Logger.Warn("Datagram poll failed", "error", err)
				continue
			}
			if msg == nil {
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.Logger.Info("WebSocket client disconnected", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}
