// Package ws is the single entry point for both classes of persistent
// connections: UI observers watching a call and the carrier's media stream.
// Connections are classified by path; everything else on the server is
// plain request/response.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"callbridge/internal/calls"
	"callbridge/internal/speech"
	"callbridge/internal/stream"
)

const closeWriteTimeout = time.Second

// Event is the JSON payload fanned out to UI observers.
type Event struct {
	Type     string                `json:"type"`
	Status   calls.CallStatus      `json:"status,omitempty"`
	Timeline []calls.TimelineEntry `json:"timeline,omitempty"`
	Line     *calls.TranscriptLine `json:"line,omitempty"`
	Message  string                `json:"message,omitempty"`
}

// EngineFactory builds one speech engine per media session.
type EngineFactory func() speech.Engine

type HubConfig struct {
	TokenSecret       string
	TokenTTL          time.Duration
	MaxStreamDuration time.Duration
	Calls             *calls.Service
	NewEngine         EngineFactory
	Logger            *slog.Logger
}

// Hub owns the per-call registries: many observers per call, at most one
// media session per call. Registrations live exactly as long as their socket;
// map entries are dropped when the last socket goes away.
type Hub struct {
	cfg      HubConfig
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu        sync.Mutex
	observers map[string]map[*websocket.Conn]struct{}
	media     map[string]*stream.Session
}

func NewHub(cfg HubConfig) *Hub {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		cfg: cfg,
		log: log.With("component", "ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		observers: map[string]map[*websocket.Conn]struct{}{},
		media:     map[string]*stream.Session{},
	}
}

// RegisterRoutes attaches the two upgrade endpoints. Any other path never
// reaches an upgrade handshake.
func (h *Hub) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws/ui/session", h.handleUIObserver)
	r.GET("/ws/exotel/stream", h.handleMediaStream)
}

func (h *Hub) handleUIObserver(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	id := c.Query("callSessionId")
	if id == "" {
		h.closePolicy(conn, "Missing callSessionId")
		return
	}

	h.addObserver(id, conn)
	h.sendTo(conn, Event{Type: "connected"})
	h.log.Debug("observer connected", "call_session_id", id)

	go func() {
		defer func() {
			h.removeObserver(id, conn)
			_ = conn.Close()
			h.log.Debug("observer disconnected", "call_session_id", id)
		}()
		for {
			// Observers are read-only; the loop only detects the close.
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) handleMediaStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	id := c.Query("callSessionId")
	token := c.Query("token")
	if id == "" || token == "" {
		h.closePolicy(conn, "Missing token or callSessionId")
		return
	}
	if !stream.VerifyToken(token, h.cfg.TokenSecret, h.cfg.TokenTTL) {
		h.closePolicy(conn, "Invalid token")
		return
	}

	sess, err := stream.NewSession(stream.SessionConfig{
		CallSessionID: id,
		Conn:          conn,
		Engine:        h.cfg.NewEngine(),
		Calls:         h.cfg.Calls,
		Notifier:      h,
		MaxDuration:   h.cfg.MaxStreamDuration,
		Logger:        h.log,
	})
	if err != nil {
		h.log.Error("media session setup failed", "call_session_id", id, "err", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session setup failed"),
			time.Now().Add(closeWriteTimeout))
		_ = conn.Close()
		return
	}

	h.registerMedia(id, sess)
	h.log.Info("media stream connected", "call_session_id", id)

	sess.Run()

	sess.Stop()
	h.deregisterMedia(id, sess)
	_ = conn.Close()
	h.log.Info("media stream closed", "call_session_id", id)
}

// Broadcast fans an event out to every observer of one call. Observers of
// other calls never see it. The payload is marshaled once; a failed write is
// dropped, deregistration stays with the close handler.
func (h *Hub) Broadcast(callSessionID string, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("event marshal failed", "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.observers[callSessionID] {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.Debug("observer write failed, dropping event", "call_session_id", callSessionID, "err", err)
		}
	}
}

// NotifyStatus implements calls.Notifier.
func (h *Hub) NotifyStatus(callSessionID string, status calls.CallStatus, timeline []calls.TimelineEntry) {
	h.Broadcast(callSessionID, Event{Type: "status", Status: status, Timeline: timeline})
}

// NotifyTranscript implements calls.Notifier.
func (h *Hub) NotifyTranscript(callSessionID string, line calls.TranscriptLine) {
	h.Broadcast(callSessionID, Event{Type: "transcript", Line: &line})
}

// SessionError implements stream.Notifier.
func (h *Hub) SessionError(callSessionID, message string) {
	h.Broadcast(callSessionID, Event{Type: "error", Message: message})
}

// MediaSession returns the active media session for a call, if any.
func (h *Hub) MediaSession(callSessionID string) (*stream.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.media[callSessionID]
	return s, ok
}

// ObserverCount reports how many observer sockets watch a call.
func (h *Hub) ObserverCount(callSessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers[callSessionID])
}

func (h *Hub) addObserver(id string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.observers[id]
	if !ok {
		set = map[*websocket.Conn]struct{}{}
		h.observers[id] = set
	}
	set[conn] = struct{}{}
}

func (h *Hub) removeObserver(id string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.observers[id]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.observers, id)
	}
}

// registerMedia installs the session for a call. A second media connect for
// the same call replaces the first and shuts the old one down; the carrier
// retrying a stream must not leave two live bridges.
func (h *Hub) registerMedia(id string, sess *stream.Session) {
	h.mu.Lock()
	prior := h.media[id]
	h.media[id] = sess
	h.mu.Unlock()

	if prior != nil {
		h.log.Warn("replacing active media session", "call_session_id", id)
		prior.Shutdown("Replaced by a new media stream")
	}
}

func (h *Hub) deregisterMedia(id string, sess *stream.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.media[id] == sess {
		delete(h.media, id)
	}
}

func (h *Hub) sendTo(conn *websocket.Conn, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.log.Debug("observer write failed", "err", err)
	}
}

func (h *Hub) closePolicy(conn *websocket.Conn, reason string) {
	h.log.Debug("rejecting connection", "reason", reason)
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(closeWriteTimeout),
	)
	_ = conn.Close()
}
