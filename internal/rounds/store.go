package rounds

import (
	"sync"
	"time"

	"stepsense/internal/model"
)

// Store keeps the most recent finished rounds in memory.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Round
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{limit: limit}
}

func (s *Store) Add(round model.Round) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, round)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = round
}

func (s *Store) List(limit int) []model.Round {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Round, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.Round {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Round, 0)
	for _, r := range s.buf {
		if !r.Timestamp.Before(ts) {
			out = append(out, r)
		}
	}
	return out
}

// Summary counts rounds per mode and result.
func (s *Store) Summary() map[model.Mode]map[model.RoundResult]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.Mode]map[model.RoundResult]int)
	for _, r := range s.buf {
		m, ok := out[r.Mode]
		if !ok {
			m = make(map[model.RoundResult]int)
			out[r.Mode] = m
		}
		m[r.Result]++
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
