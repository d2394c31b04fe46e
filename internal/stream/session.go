package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"callbridge/internal/calls"
	"callbridge/internal/speech"
)

// DefaultMaxDuration is the hard ceiling on one media session.
const DefaultMaxDuration = 240 * time.Second

const closeWriteTimeout = time.Second

// MediaConn is the subset of *websocket.Conn the session needs. Narrowed so
// tests can drive a session without a real socket.
type MediaConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Notifier delivers non-persisted session events to call observers.
// Transcript lines go through calls.Service instead, which persists first.
type Notifier interface {
	SessionError(callSessionID, message string)
}

type SessionConfig struct {
	CallSessionID string
	Conn          MediaConn
	Engine        speech.Engine
	Calls         *calls.Service
	Notifier      Notifier
	MaxDuration   time.Duration
	Logger        *slog.Logger
}

// Session bridges one call's media socket to the speech engine:
// inbound binary frames go to the engine, engine transcript/audio/error
// events come back out through the store, the socket, and the hub.
//
// Lifecycle is active then stopped, nothing in between. Stop is idempotent
// and may be called from the duration timer and the close handler in either
// order.
type Session struct {
	callID string
	conn   MediaConn
	engine speech.Engine
	calls  *calls.Service
	notif  Notifier
	log    *slog.Logger

	timerMu  sync.Mutex
	timer    *time.Timer
	pumpDone chan struct{}

	writeMu  sync.Mutex
	stopOnce sync.Once
	stopped  atomic.Bool
}

// NewSession starts the engine, the event pump, and the duration timer.
// The caller runs the inbound read loop via Run and must call Stop when the
// transport closes.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Conn == nil || cfg.Engine == nil || cfg.Calls == nil || cfg.Notifier == nil {
		return nil, errors.New("stream: session requires conn, engine, calls, notifier")
	}
	maxDuration := cfg.MaxDuration
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Session{
		callID:   cfg.CallSessionID,
		conn:     cfg.Conn,
		engine:   cfg.Engine,
		calls:    cfg.Calls,
		notif:    cfg.Notifier,
		log:      log.With("call_session_id", cfg.CallSessionID),
		pumpDone: make(chan struct{}),
	}

	if err := s.engine.Start(context.Background()); err != nil {
		// Degraded, not fatal: observers hear about it, the socket stays up.
		s.log.Warn("speech engine start failed", "err", err)
		s.notif.SessionError(s.callID, err.Error())
	}

	go s.pumpEvents()
	s.timerMu.Lock()
	s.timer = time.AfterFunc(maxDuration, s.expire)
	s.timerMu.Unlock()
	return s, nil
}

// Run reads inbound frames until the transport closes, forwarding binary
// frames to the engine in arrival order while the session is active.
func (s *Session) Run() {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.BinaryMessage && !s.stopped.Load() {
			s.engine.SendAudio(data)
		}
	}
}

func (s *Session) pumpEvents() {
	defer close(s.pumpDone)
	for ev := range s.engine.Events() {
		switch e := ev.(type) {
		case speech.Transcript:
			if _, err := s.calls.AppendTranscript(context.Background(), s.callID, e.Text, calls.SourceAgent); err != nil {
				s.log.Warn("transcript append failed", "err", err)
			}
		case speech.Audio:
			s.writeAudio(e.Data)
		case speech.Err:
			s.notif.SessionError(s.callID, e.Err.Error())
		}
	}
}

func (s *Session) writeAudio(data []byte) {
	if s.stopped.Load() {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.log.Debug("audio write failed", "err", err)
	}
}

// expire fires once when the duration cap is reached. This is a normal,
// expected termination, not an error.
func (s *Session) expire() {
	s.Shutdown("Max duration reached")
}

// Shutdown stops the session and closes its transport with a normal-closure
// frame carrying reason.
func (s *Session) Shutdown(reason string) {
	s.Stop()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(closeWriteTimeout),
	)
	_ = s.conn.Close()
}

// Stop ends the speech session and cancels the duration timer. Safe to call
// from the timer callback and the transport close handler in any order.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.engine.Stop()
		s.timerMu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		s.timerMu.Unlock()
	})
}

// Stopped reports whether Stop has run.
func (s *Session) Stopped() bool { return s.stopped.Load() }
