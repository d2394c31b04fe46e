package speech

import (
	"context"
	"sync"
	"time"
)

const defaultMockInterval = 6 * time.Second

// MockEngine emits a canned transcript line and an audio chunk on a fixed
// period. It exists so the whole bridge can be exercised locally without
// speech backend credentials.
type MockEngine struct {
	interval time.Duration

	mu        sync.Mutex
	active    bool
	events    chan Event
	done      chan struct{}
	stopped   sync.WaitGroup
	closeOnce sync.Once
}

func NewMockEngine(interval time.Duration) *MockEngine {
	if interval <= 0 {
		interval = defaultMockInterval
	}
	return &MockEngine{
		interval: interval,
		events:   make(chan Event, 16),
	}
}

func (m *MockEngine) Events() <-chan Event { return m.events }

func (m *MockEngine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return nil
	}
	m.active = true
	m.done = make(chan struct{})

	m.stopped.Add(1)
	go m.loop(m.done)
	return nil
}

func (m *MockEngine) loop(done <-chan struct{}) {
	defer m.stopped.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.emit(Transcript{
				Text:  "Namaste! Main Aarav bol raha hoon. Kya aapko callback schedule karna hai?",
				Final: true,
			})
			m.emit(Audio{Data: []byte("mock-audio")})
		}
	}
}

func (m *MockEngine) emit(ev Event) {
	// Drop rather than block when nobody is draining.
	select {
	case m.events <- ev:
	default:
	}
}

// SendAudio accepts and discards inbound audio; the mock has no STT.
func (m *MockEngine) SendAudio(data []byte) {}

func (m *MockEngine) Stop() {
	m.mu.Lock()
	if m.active {
		m.active = false
		close(m.done)
	}
	m.mu.Unlock()

	m.stopped.Wait()
	m.closeOnce.Do(func() { close(m.events) })
}
