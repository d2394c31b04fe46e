package calls

import "time"

// CallSession represents one outbound call attempt and everything the
// dashboard needs to render it: current status, the status timeline, and
// the running transcript.
//
// Timeline and Transcript are append-only. Insertion order is chronological
// order; entries are never rewritten or reordered. Transcript entries are
// ordered by arrival, which can differ from Timestamp order under clock skew.
type CallSession struct {
	ID string `json:"id"`

	// ExotelCallID is the carrier-assigned identifier. Empty until the
	// carrier accepts the dial request; set at most once.
	ExotelCallID string `json:"exotelCallId,omitempty"`

	// To is the destination number, validated by the caller before creation.
	To string `json:"to"`

	Status CallStatus `json:"status"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Transcript []TranscriptLine `json:"transcript"`
	Timeline   []TimelineEntry  `json:"timeline"`
}

type CallStatus string

const (
	StatusInitiated CallStatus = "initiated"
	StatusRinging   CallStatus = "ringing"
	StatusAnswered  CallStatus = "answered"
	StatusCompleted CallStatus = "completed"
	StatusFailed    CallStatus = "failed"
)

// ParseStatus maps a raw carrier status string onto the closed vocabulary.
// The vocabulary is closed but no transition graph is enforced; any status
// may follow any other.
func ParseStatus(raw string) (CallStatus, bool) {
	switch CallStatus(raw) {
	case StatusInitiated, StatusRinging, StatusAnswered, StatusCompleted, StatusFailed:
		return CallStatus(raw), true
	default:
		return "", false
	}
}

type TimelineEntry struct {
	Status    CallStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	Reason    string     `json:"reason,omitempty"`
}

type TranscriptSource string

const (
	SourceAgent    TranscriptSource = "agent"
	SourceCustomer TranscriptSource = "customer"
	SourceSystem   TranscriptSource = "system"
)

type TranscriptLine struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Text      string           `json:"text"`
	Source    TranscriptSource `json:"source"`
}

// AppendStatus records a status transition. It is the only sanctioned way to
// grow Timeline; callers go through Service so appends serialize per session.
func (s *CallSession) AppendStatus(status CallStatus, reason string, at time.Time) TimelineEntry {
	entry := TimelineEntry{Status: status, Timestamp: at, Reason: reason}
	s.Status = status
	s.Timeline = append(s.Timeline, entry)
	s.UpdatedAt = at
	return entry
}

// AppendTranscriptLine records a transcript line and advances UpdatedAt.
func (s *CallSession) AppendTranscriptLine(line TranscriptLine) {
	s.Transcript = append(s.Transcript, line)
	s.UpdatedAt = line.Timestamp
}
