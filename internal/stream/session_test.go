package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"callbridge/internal/calls"
	"callbridge/internal/speech"
)

type fakeConn struct {
	frames chan []byte

	mu          sync.Mutex
	binary      [][]byte
	closed      bool
	closeCode   int
	closeReason string
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.frames
	if !ok {
		return 0, nil, errors.New("use of closed connection")
	}
	return websocket.BinaryMessage, data, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	if messageType == websocket.BinaryMessage {
		c.binary = append(c.binary, data)
	}
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		c.closeCode = int(binary.BigEndian.Uint16(data[:2]))
		c.closeReason = string(data[2:])
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	return nil
}

func (c *fakeConn) snapshot() (closed bool, code int, reason string, frames int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode, c.closeReason, len(c.binary)
}

type fakeEngine struct {
	events    chan speech.Event
	closeOnce sync.Once

	mu         sync.Mutex
	startCalls int
	stopCalls  int
	sent       [][]byte
	startErr   error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan speech.Event, 16)}
}

func (e *fakeEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startCalls++
	return e.startErr
}

func (e *fakeEngine) Stop() {
	e.mu.Lock()
	e.stopCalls++
	e.mu.Unlock()
	e.closeOnce.Do(func() { close(e.events) })
}

func (e *fakeEngine) SendAudio(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, data)
}

func (e *fakeEngine) Events() <-chan speech.Event { return e.events }

func (e *fakeEngine) counts() (starts, stops, sent int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startCalls, e.stopCalls, len(e.sent)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) SessionError(id, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newSessionFixture(t *testing.T, maxDuration time.Duration) (*Session, *fakeConn, *fakeEngine, *fakeNotifier, *calls.Service, string) {
	t.Helper()
	svc := calls.NewService(calls.NewMemoryStore())
	sess, err := svc.Create(context.Background(), "+15550001111")
	if err != nil {
		t.Fatalf("create session record: %v", err)
	}

	conn := newFakeConn()
	engine := newFakeEngine()
	notif := &fakeNotifier{}

	s, err := NewSession(SessionConfig{
		CallSessionID: sess.ID,
		Conn:          conn,
		Engine:        engine,
		Calls:         svc,
		Notifier:      notif,
		MaxDuration:   maxDuration,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, conn, engine, notif, svc, sess.ID
}

func TestSessionForwardsInboundAudio(t *testing.T) {
	s, conn, engine, _, _, _ := newSessionFixture(t, time.Minute)
	go s.Run()

	conn.frames <- []byte{0x01, 0x02}
	waitFor(t, "audio to reach engine", func() bool {
		_, _, sent := engine.counts()
		return sent == 1
	})
}

func TestSessionPersistsAndStopsOnTranscript(t *testing.T) {
	_, _, engine, _, svc, id := newSessionFixture(t, time.Minute)

	engine.events <- speech.Transcript{Text: "hello there", Final: true}

	waitFor(t, "transcript line in store", func() bool {
		sess, _, _ := svc.Get(context.Background(), id)
		return len(sess.Transcript) == 1
	})
	sess, _, _ := svc.Get(context.Background(), id)
	line := sess.Transcript[0]
	if line.Text != "hello there" || line.Source != calls.SourceAgent || line.ID == "" {
		t.Fatalf("unexpected line %+v", line)
	}
}

func TestSessionWritesEngineAudioToTransport(t *testing.T) {
	_, conn, engine, _, _, _ := newSessionFixture(t, time.Minute)

	engine.events <- speech.Audio{Data: []byte("pcm")}

	waitFor(t, "audio frame on transport", func() bool {
		_, _, _, frames := conn.snapshot()
		return frames == 1
	})
}

func TestSessionEngineErrorsAreNonFatal(t *testing.T) {
	s, _, engine, notif, _, _ := newSessionFixture(t, time.Minute)

	engine.events <- speech.Err{Err: errors.New("backend unavailable")}

	waitFor(t, "error notification", func() bool { return notif.count() == 1 })
	if s.Stopped() {
		t.Fatalf("engine error must not stop the session")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s, _, engine, _, _, _ := newSessionFixture(t, time.Minute)

	s.Stop()
	s.Stop()

	_, stops, _ := engine.counts()
	if stops != 1 {
		t.Fatalf("expected exactly one engine stop, got %d", stops)
	}
	if !s.Stopped() {
		t.Fatalf("expected session to report stopped")
	}
}

func TestDurationCapClosesTransportNormally(t *testing.T) {
	s, conn, _, _, _, _ := newSessionFixture(t, 20*time.Millisecond)
	go s.Run()

	waitFor(t, "transport close", func() bool {
		closed, _, _, _ := conn.snapshot()
		return closed && s.Stopped()
	})
	_, code, reason, _ := conn.snapshot()
	if code != websocket.CloseNormalClosure {
		t.Fatalf("expected close code 1000, got %d", code)
	}
	if reason != "Max duration reached" {
		t.Fatalf("unexpected close reason %q", reason)
	}
}

func TestStoppedSessionDropsInboundAudio(t *testing.T) {
	s, conn, engine, _, _, _ := newSessionFixture(t, time.Minute)
	go s.Run()

	s.Stop()
	conn.frames <- []byte{0xff}

	time.Sleep(50 * time.Millisecond)
	if _, _, sent := engine.counts(); sent != 0 {
		t.Fatalf("expected no audio forwarded after stop, got %d", sent)
	}
}

func TestEngineStartFailureIsReportedNotFatal(t *testing.T) {
	svc := calls.NewService(calls.NewMemoryStore())
	sess, _ := svc.Create(context.Background(), "+15550001111")

	engine := newFakeEngine()
	engine.startErr = errors.New("dial failed")
	notif := &fakeNotifier{}

	s, err := NewSession(SessionConfig{
		CallSessionID: sess.ID,
		Conn:          newFakeConn(),
		Engine:        engine,
		Calls:         svc,
		Notifier:      notif,
		MaxDuration:   time.Minute,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Stop()

	if notif.count() != 1 {
		t.Fatalf("expected start failure to be reported to observers")
	}
	if s.Stopped() {
		t.Fatalf("start failure must leave the session active")
	}
}
