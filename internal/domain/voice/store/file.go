package store

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bytedance/sonic"
)

// fileStore keeps the cloned voice manifest as a JSON document next to the
// uploaded samples. The whole manifest is rewritten on every mutation; the
// write goes through a temp file and rename so readers never see a torn
// document.
type fileStore struct {
	mu   sync.Mutex
	path string
}

// NewFile constructs a manifest-backed store at the given path.
func NewFile(path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{path: path}, nil
}

type manifest struct {
	Voices map[string]Record `json:"voices"`
}

func (s *fileStore) read() (manifest, error) {
	m := manifest{Voices: map[string]Record{}}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return m, err
	}
	if err := sonic.Unmarshal(data, &m); err != nil {
		return m, err
	}
	if m.Voices == nil {
		m.Voices = map[string]Record{}
	}
	return m, nil
}

func (s *fileStore) write(m manifest) error {
	data, err := sonic.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Save(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read()
	if err != nil {
		return err
	}
	m.Voices[rec.Name] = rec
	return s.write(m)
}

func (s *fileStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read()
	if err != nil {
		return err
	}
	delete(m.Voices, name)
	return s.write(m)
}

func (s *fileStore) Load(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read()
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(m.Voices))
	for _, rec := range m.Voices {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fileStore) Close(ctx context.Context) error {
	return nil
}
