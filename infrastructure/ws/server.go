package ws

import (
	"chat-relay/domain/chat"
	"chat-relay/observability"
	"chat-relay/services"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type roomCounter interface {
	Rooms() []chat.RoomID
	ConnectionsFor(room chat.RoomID) int
}

type presenceTracker interface {
	presenceSet
	Count() int
}

type Options struct {
	AllowedOrigins    []string
	BufferSize        int
	MaxFrameSize      int64
	MaxContentLength  int
	WriteTimeout      time.Duration
	PongTimeout       time.Duration
	RateLimitBurst    int
	RateLimitInterval time.Duration
}

// Server exposes the room and notification endpoints plus health and metrics.
// Each upgraded connection is served by its own Session on the handler goroutine.
type Server struct {
	service  services.IChatService
	rooms    roomCounter
	presence presenceTracker
	gatherer prometheus.Gatherer
	metrics  *observability.Metrics
	opts     Options
	upgrader websocket.Upgrader
	sessions sync.WaitGroup
	log      *slog.Logger
}

func NewServer(
	service services.IChatService,
	rooms roomCounter,
	presence presenceTracker,
	gatherer prometheus.Gatherer,
	metrics *observability.Metrics,
	opts Options,
	log *slog.Logger,
) *Server {
	origins := newOriginPolicy(opts.AllowedOrigins, log)
	return &Server{
		service:  service,
		rooms:    rooms,
		presence: presence,
		gatherer: gatherer,
		metrics:  metrics,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		log: log,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/chat/{room_id}", s.handleRoom)
	mux.HandleFunc("GET /ws/notifications", s.handleNotifications)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// CreateServer wraps the handler with production timeouts.
// Upgraded connections manage their own deadlines.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Wait blocks until every session has ended or ctx is done.
// http.Server.Shutdown does not track upgraded connections, this does.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := chat.ParseRoomID(r.PathValue("room_id"))
	if !ok {
		http.Error(w, "room id must be a positive integer", http.StatusBadRequest)
		return
	}
	s.serve(w, r, chat.ScopeRoom, room)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, chat.ScopeNotification, 0)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, scope chat.Scope, room chat.RoomID) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client
		s.log.Debug("Websocket upgrade failed", "scope", scope, "error", err)
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	conn := newConn(ws, connOptions{
		bufferSize:   s.opts.BufferSize,
		maxFrameSize: s.opts.MaxFrameSize,
		writeTimeout: s.opts.WriteTimeout,
		pongTimeout:  s.opts.PongTimeout,
	}, s.log.With("remote_addr", r.RemoteAddr))
	go conn.writePump()

	session := newSession(scope, room, bearerToken(r), conn, s.service, s.presence, sessionOptions{
		maxContentLength:  s.opts.MaxContentLength,
		rateLimitBurst:    s.opts.RateLimitBurst,
		rateLimitInterval: s.opts.RateLimitInterval,
	}, s.metrics, s.log)
	session.Serve(r.Context())
}

// bearerToken reads the token query parameter, which browsers can set on a websocket URL,
// and falls back to the Authorization header for other clients.
func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found {
		return ""
	}
	return strings.TrimSpace(token)
}

type healthResponse struct {
	Status      string `json:"status"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
	Presence    int    `json:"presence"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	rooms := s.rooms.Rooms()
	response := healthResponse{
		Status: "ok",
		Rooms:  len(rooms),
		Connections: lo.SumBy(rooms, func(room chat.RoomID) int {
			return s.rooms.ConnectionsFor(room)
		}),
		Presence: s.presence.Count(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.log.Debug("Unable to write health response", "error", err)
	}
}
