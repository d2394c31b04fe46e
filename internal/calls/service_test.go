package calls

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu          sync.Mutex
	statuses    []CallStatus
	transcripts []TranscriptLine
}

func (n *recordingNotifier) NotifyStatus(id string, status CallStatus, timeline []TimelineEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, status)
}

func (n *recordingNotifier) NotifyTranscript(id string, line TranscriptLine) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transcripts = append(n.transcripts, line)
}

func newTestService(t *testing.T) (*Service, *recordingNotifier) {
	t.Helper()
	svc := NewService(NewMemoryStore())
	svc.SetClock(func() time.Time { return time.Unix(1700000000, 0).UTC() })
	n := &recordingNotifier{}
	svc.SetNotifier(n)
	return svc, n
}

func TestCreateSeedsTimeline(t *testing.T) {
	svc, _ := newTestService(t)
	sess, err := svc.Create(context.Background(), "+15550001111")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID == "" {
		t.Fatalf("expected generated id")
	}
	if sess.Status != StatusInitiated {
		t.Fatalf("expected initiated, got %s", sess.Status)
	}
	if len(sess.Timeline) != 1 || sess.Timeline[0].Status != StatusInitiated {
		t.Fatalf("expected seeded timeline, got %+v", sess.Timeline)
	}
}

func TestUpdateStatusPersistsAndNotifies(t *testing.T) {
	svc, n := newTestService(t)
	ctx := context.Background()
	sess, _ := svc.Create(ctx, "+15550001111")

	updated, err := svc.UpdateStatus(ctx, sess.ID, StatusRinging, "")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updated.Timeline) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(updated.Timeline))
	}

	stored, ok, _ := svc.Get(ctx, sess.ID)
	if !ok || stored.Status != StatusRinging {
		t.Fatalf("expected persisted ringing, got %+v", stored)
	}
	if len(n.statuses) != 1 || n.statuses[0] != StatusRinging {
		t.Fatalf("expected status notification, got %+v", n.statuses)
	}
}

func TestUpdateStatusUnknownSession(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.UpdateStatus(context.Background(), "missing", StatusFailed, "x"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateStatusByExternalID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess, _ := svc.Create(ctx, "+15550001111")
	if _, err := svc.SetExternalCallID(ctx, sess.ID, "exo-123"); err != nil {
		t.Fatalf("set external id: %v", err)
	}

	updated, err := svc.UpdateStatusByExternalID(ctx, "exo-123", StatusAnswered, "")
	if err != nil {
		t.Fatalf("update by external id: %v", err)
	}
	if updated.ID != sess.ID || updated.Status != StatusAnswered {
		t.Fatalf("unexpected session %+v", updated)
	}

	if _, err := svc.UpdateStatusByExternalID(ctx, "exo-unknown", StatusAnswered, ""); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendTranscript(t *testing.T) {
	svc, n := newTestService(t)
	ctx := context.Background()
	sess, _ := svc.Create(ctx, "+15550001111")

	line, err := svc.AppendTranscript(ctx, sess.ID, "hello", SourceAgent)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if line.ID == "" || line.Source != SourceAgent || line.Text != "hello" {
		t.Fatalf("unexpected line %+v", line)
	}

	stored, _, _ := svc.Get(ctx, sess.ID)
	if len(stored.Transcript) != 1 {
		t.Fatalf("expected persisted transcript, got %+v", stored.Transcript)
	}
	if len(n.transcripts) != 1 {
		t.Fatalf("expected transcript notification")
	}
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess, _ := svc.Create(ctx, "+15550001111")

	const writers = 20
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			if _, err := svc.UpdateStatus(ctx, sess.ID, StatusRinging, ""); err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	stored, _, _ := svc.Get(ctx, sess.ID)
	if len(stored.Timeline) != writers+1 {
		t.Fatalf("expected %d entries, got %d", writers+1, len(stored.Timeline))
	}
}
