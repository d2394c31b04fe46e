package calls

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("calls: session not found")

// Notifier receives domain events after they have been persisted.
// The websocket hub implements it; tests use a recording fake.
type Notifier interface {
	NotifyStatus(callSessionID string, status CallStatus, timeline []TimelineEntry)
	NotifyTranscript(callSessionID string, line TranscriptLine)
}

// Service owns every mutation of call sessions. Status and transcript appends
// go through here so that the append-only ordering holds even when the carrier
// webhook, the mock-mode timers, and the media session race each other.
//
// Stores are whole-record replace-on-write, so the service serializes each
// read-modify-write cycle with a per-session mutex. This closes the
// lost-update window the original design accepted.
type Service struct {
	store    Store
	clock    func() time.Time
	notifier Notifier

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(store Store) *Service {
	return &Service{
		store: store,
		clock: time.Now,
		locks: map[string]*sync.Mutex{},
	}
}

// SetNotifier wires the broadcast sink. Must be called before traffic;
// a nil notifier simply drops events (useful in tests).
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetClock overrides the time source for tests.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

func (s *Service) sessionLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Create makes a new session in status initiated with a seeded timeline entry.
func (s *Service) Create(ctx context.Context, to string) (CallSession, error) {
	now := s.clock().UTC()
	sess := CallSession{
		ID:         uuid.NewString(),
		To:         to,
		Status:     StatusInitiated,
		CreatedAt:  now,
		UpdatedAt:  now,
		Transcript: []TranscriptLine{},
		Timeline:   []TimelineEntry{{Status: StatusInitiated, Timestamp: now}},
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return CallSession{}, err
	}
	return sess, nil
}

func (s *Service) List(ctx context.Context) ([]CallSession, error) {
	return s.store.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (CallSession, bool, error) {
	return s.store.Get(ctx, id)
}

// SetExternalCallID records the carrier-assigned id once the dial is accepted.
func (s *Service) SetExternalCallID(ctx context.Context, id, exotelCallID string) (CallSession, error) {
	l := s.sessionLock(id)
	l.Lock()
	defer l.Unlock()

	sess, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return CallSession{}, err
	}
	if !ok {
		return CallSession{}, ErrNotFound
	}
	sess.ExotelCallID = exotelCallID
	sess.UpdatedAt = s.clock().UTC()
	if err := s.store.Save(ctx, sess); err != nil {
		return CallSession{}, err
	}
	return sess, nil
}

// UpdateStatus appends a timeline entry, persists, and broadcasts the new
// timeline to observers. Any status may follow any other.
func (s *Service) UpdateStatus(ctx context.Context, id string, status CallStatus, reason string) (CallSession, error) {
	l := s.sessionLock(id)
	l.Lock()
	defer l.Unlock()

	sess, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return CallSession{}, err
	}
	if !ok {
		return CallSession{}, ErrNotFound
	}
	sess.AppendStatus(status, reason, s.clock().UTC())
	if err := s.store.Save(ctx, sess); err != nil {
		return CallSession{}, err
	}
	if s.notifier != nil {
		s.notifier.NotifyStatus(sess.ID, sess.Status, sess.Timeline)
	}
	return sess, nil
}

// UpdateStatusByExternalID resolves the carrier call id to a session and
// appends a status. The carrier webhook is the only caller.
func (s *Service) UpdateStatusByExternalID(ctx context.Context, exotelCallID string, status CallStatus, reason string) (CallSession, error) {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return CallSession{}, err
	}
	for _, sess := range sessions {
		if sess.ExotelCallID == exotelCallID {
			return s.UpdateStatus(ctx, sess.ID, status, reason)
		}
	}
	return CallSession{}, ErrNotFound
}

// AppendTranscript stores a transcript line and broadcasts it.
func (s *Service) AppendTranscript(ctx context.Context, id, text string, source TranscriptSource) (TranscriptLine, error) {
	l := s.sessionLock(id)
	l.Lock()
	defer l.Unlock()

	sess, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return TranscriptLine{}, err
	}
	if !ok {
		return TranscriptLine{}, ErrNotFound
	}
	line := TranscriptLine{
		ID:        uuid.NewString(),
		Timestamp: s.clock().UTC(),
		Text:      text,
		Source:    source,
	}
	sess.AppendTranscriptLine(line)
	if err := s.store.Save(ctx, sess); err != nil {
		return TranscriptLine{}, err
	}
	if s.notifier != nil {
		s.notifier.NotifyTranscript(sess.ID, line)
	}
	return line, nil
}
