// Package speech is the narrow boundary to the realtime speech backend:
// audio goes in, transcript/audio events come out. The engine's own wire
// protocol stays behind this interface.
package speech

import "context"

// Event is the closed set of things an engine can emit.
type Event interface {
	isEvent()
}

// Transcript carries agent speech-to-text output.
type Transcript struct {
	Text  string
	Final bool
}

// Audio carries raw agent output audio for the media transport.
type Audio struct {
	Data []byte
}

// Err reports a non-fatal engine failure. The media session stays alive.
type Err struct {
	Err error
}

func (Transcript) isEvent() {}
func (Audio) isEvent()      {}
func (Err) isEvent()        {}

// Engine is a realtime speech session. Start begins streaming; SendAudio
// forwards one inbound audio frame; Stop ends the session and closes the
// events channel. Stop must be idempotent.
type Engine interface {
	Start(ctx context.Context) error
	Stop()
	SendAudio(data []byte)
	Events() <-chan Event
}
