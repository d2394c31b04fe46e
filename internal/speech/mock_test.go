package speech

import (
	"context"
	"testing"
	"time"
)

func TestMockEngineEmitsTranscriptAndAudio(t *testing.T) {
	m := NewMockEngine(10 * time.Millisecond)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	var gotTranscript, gotAudio bool
	deadline := time.After(2 * time.Second)
	for !gotTranscript || !gotAudio {
		select {
		case ev := <-m.Events():
			switch ev.(type) {
			case Transcript:
				gotTranscript = true
			case Audio:
				gotAudio = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for events (transcript=%v audio=%v)", gotTranscript, gotAudio)
		}
	}
}

func TestMockEngineStopIsIdempotent(t *testing.T) {
	m := NewMockEngine(time.Hour)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.Stop()
	m.Stop()

	if _, ok := <-m.Events(); ok {
		t.Fatalf("expected events channel to be closed")
	}
}

func TestGeminiUnconfiguredReportsErrorPerFrame(t *testing.T) {
	g := NewGeminiLive("", "gemini-2.0-flash-realtime")
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer g.Stop()

	g.SendAudio([]byte{0x00, 0x01})

	select {
	case ev := <-g.Events():
		e, ok := ev.(Err)
		if !ok {
			t.Fatalf("expected Err event, got %T", ev)
		}
		if e.Err != ErrUnconfigured {
			t.Fatalf("unexpected error %v", e.Err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for error event")
	}
}
