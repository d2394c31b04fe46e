package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	geminiLiveHost = "generativelanguage.googleapis.com"
	geminiLivePath = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	geminiDialTimeout = 15 * time.Second
)

// ErrUnconfigured is emitted per inbound frame when no API key is set and
// mock mode is off. The session stays alive in a degraded state.
var ErrUnconfigured = errors.New("speech: gemini realtime streaming is not configured; enable MOCK_MODE for local testing")

// GeminiLive streams call audio to the Gemini bidirectional realtime API
// over a websocket and surfaces transcript/audio frames as typed events.
type GeminiLive struct {
	apiKey string
	model  string
	dialer *websocket.Dialer

	events    chan Event
	readDone  chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	active bool
	conn   *websocket.Conn
}

func NewGeminiLive(apiKey, model string) *GeminiLive {
	return &GeminiLive{
		apiKey: apiKey,
		model:  model,
		dialer: &websocket.Dialer{HandshakeTimeout: geminiDialTimeout},
		events: make(chan Event, 32),
	}
}

func (g *GeminiLive) Events() <-chan Event { return g.events }

func (g *GeminiLive) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active {
		return nil
	}
	g.active = true

	if g.apiKey == "" {
		// Degraded but alive: SendAudio reports ErrUnconfigured per frame.
		return nil
	}

	u := url.URL{
		Scheme:   "wss",
		Host:     geminiLiveHost,
		Path:     geminiLivePath,
		RawQuery: url.Values{"key": {g.apiKey}}.Encode(),
	}
	conn, _, err := g.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		g.active = false
		return fmt.Errorf("speech: dial gemini: %w", err)
	}

	setup := map[string]any{
		"setup": map[string]any{
			"model": "models/" + g.model,
			"generationConfig": map[string]any{
				"responseModalities": []string{"AUDIO"},
			},
			"outputAudioTranscription": map[string]any{},
		},
	}
	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		g.active = false
		return fmt.Errorf("speech: gemini setup: %w", err)
	}

	g.conn = conn
	g.readDone = make(chan struct{})
	go g.readLoop(conn)
	return nil
}

type geminiServerMessage struct {
	ServerContent *struct {
		ModelTurn *struct {
			Parts []struct {
				Text       string `json:"text,omitempty"`
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData,omitempty"`
			} `json:"parts"`
		} `json:"modelTurn,omitempty"`
		OutputTranscription *struct {
			Text string `json:"text"`
		} `json:"outputTranscription,omitempty"`
		TurnComplete bool `json:"turnComplete,omitempty"`
	} `json:"serverContent,omitempty"`
}

func (g *GeminiLive) readLoop(conn *websocket.Conn) {
	defer close(g.readDone)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if g.isActive() {
				g.emit(Err{Err: fmt.Errorf("speech: gemini read: %w", err)})
			}
			return
		}
		var msg geminiServerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			g.emit(Err{Err: fmt.Errorf("speech: gemini frame: %w", err)})
			continue
		}
		sc := msg.ServerContent
		if sc == nil {
			continue
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && part.InlineData.Data != "" {
					audio, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
					if err != nil {
						g.emit(Err{Err: fmt.Errorf("speech: gemini audio: %w", err)})
						continue
					}
					g.emit(Audio{Data: audio})
				}
				if part.Text != "" {
					g.emit(Transcript{Text: part.Text, Final: sc.TurnComplete})
				}
			}
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			g.emit(Transcript{Text: sc.OutputTranscription.Text, Final: sc.TurnComplete})
		}
	}
}

// SendAudio forwards one frame of inbound call audio (PCM, 16kHz mono).
func (g *GeminiLive) SendAudio(data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active {
		return
	}
	if g.conn == nil {
		g.emitLocked(Err{Err: ErrUnconfigured})
		return
	}
	frame := map[string]any{
		"realtimeInput": map[string]any{
			"audio": map[string]any{
				"data":     base64.StdEncoding.EncodeToString(data),
				"mimeType": "audio/pcm;rate=16000",
			},
		},
	}
	if err := g.conn.WriteJSON(frame); err != nil {
		g.emitLocked(Err{Err: fmt.Errorf("speech: gemini send: %w", err)})
	}
}

func (g *GeminiLive) Stop() {
	g.mu.Lock()
	g.active = false
	conn := g.conn
	g.conn = nil
	readDone := g.readDone
	g.readDone = nil
	g.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if readDone != nil {
		<-readDone
	}
	g.closeOnce.Do(func() { close(g.events) })
}

func (g *GeminiLive) isActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

func (g *GeminiLive) emit(ev Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emitLocked(ev)
}

func (g *GeminiLive) emitLocked(ev Event) {
	if !g.active {
		return
	}
	select {
	case g.events <- ev:
	default:
	}
}
