package calls

import "context"

// Store is the persistence contract for call sessions.
//
// Save is a full upsert by ID: whole-record replace-on-write with no
// optimistic concurrency check. Serialization of read-modify-write cycles
// is the Service's job, not the store's.
type Store interface {
	List(ctx context.Context) ([]CallSession, error)
	Get(ctx context.Context, id string) (CallSession, bool, error)
	Save(ctx context.Context, session CallSession) error
}
