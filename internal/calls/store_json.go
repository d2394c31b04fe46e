package calls

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONStore keeps every session in a single JSON file, rewritten on each save.
// This mirrors the original deployment target (a single-process PoC box);
// redis/postgres backends exist for anything beyond that.

type jsonFile struct {
	Calls []CallSession `json:"calls"`
}

type JSONStore struct {
	mu   sync.Mutex
	path string
}

func NewJSONStore(path string) (*JSONStore, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("calls: create store dir: %w", err)
	}
	if _, err := os.Stat(abs); os.IsNotExist(err) {
		if err := writeFileJSON(abs, jsonFile{Calls: []CallSession{}}); err != nil {
			return nil, err
		}
	}
	return &JSONStore{path: abs}, nil
}

func (s *JSONStore) List(ctx context.Context) ([]CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.readAll()
	if err != nil {
		return nil, err
	}
	return f.Calls, nil
}

func (s *JSONStore) Get(ctx context.Context, id string) (CallSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.readAll()
	if err != nil {
		return CallSession{}, false, err
	}
	for _, sess := range f.Calls {
		if sess.ID == id {
			return sess, true, nil
		}
	}
	return CallSession{}, false, nil
}

func (s *JSONStore) Save(ctx context.Context, session CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.readAll()
	if err != nil {
		return err
	}
	replaced := false
	for i, sess := range f.Calls {
		if sess.ID == session.ID {
			f.Calls[i] = session
			replaced = true
			break
		}
	}
	if !replaced {
		f.Calls = append(f.Calls, session)
	}
	return writeFileJSON(s.path, f)
}

func (s *JSONStore) readAll() (jsonFile, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return jsonFile{}, fmt.Errorf("calls: read store: %w", err)
	}
	var f jsonFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return jsonFile{}, fmt.Errorf("calls: parse store: %w", err)
	}
	return f, nil
}

func writeFileJSON(path string, f jsonFile) error {
	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("calls: write store: %w", err)
	}
	return nil
}
