package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	apperrors "github.com/copyleftdev/surrogate/internal/errors"
)

// Memory keeps encoded models in a map.
type Memory struct {
	mu     sync.RWMutex
	models map[string][]byte
	infos  map[string]Info
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		models: make(map[string][]byte),
		infos:  make(map[string]Info),
	}
}

func (s *Memory) Put(_ context.Context, m *Model) error {
	if err := validate(m); err != nil {
		return err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return errors.Wrapf(err, "encoding model %s", m.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.ID] = b
	s.infos[m.ID] = m.Info()
	return nil
}

func (s *Memory) Get(_ context.Context, id string) (*Model, error) {
	s.mu.RLock()
	b, ok := s.models[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(apperrors.ErrNotFound, "model %s", id)
	}

	var m Model
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrapf(err, "decoding model %s", id)
	}
	return &m, nil
}

func (s *Memory) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[id]; !ok {
		return errors.Wrapf(apperrors.ErrNotFound, "model %s", id)
	}
	delete(s.models, id)
	delete(s.infos, id)
	return nil
}

func (s *Memory) List(_ context.Context) ([]Info, error) {
	s.mu.RLock()
	out := make([]Info, 0, len(s.infos))
	for _, info := range s.infos {
		out = append(out, info)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Memory) Close() error { return nil }
