package activity

import (
	"sort"
	"sync"
	"time"
)

// Sensor is what is known about one sensor or strip device.
type Sensor struct {
	ID            string    `json:"id"`
	LastDistance  float64   `json:"last_distance"`
	LastRangeID   int       `json:"last_range_id,omitempty"`
	Readings      int       `json:"readings"`
	LastReading   time.Time `json:"last_reading,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
}

// Store tracks readings and heartbeats per device. The oldest device is
// evicted once limit is exceeded.
type Store struct {
	mu        sync.RWMutex
	byID      map[string]*Sensor
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 64
	}
	return &Store{
		byID:      make(map[string]*Sensor),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Reading(id string, distance float64, rangeID int, ts time.Time) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sensor := s.getLocked(id)
	sensor.LastDistance = distance
	sensor.LastRangeID = rangeID
	sensor.LastReading = ts
	sensor.Readings++
	s.touchLocked(id, ts)
}

func (s *Store) Heartbeat(id string, ts time.Time) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sensor := s.getLocked(id)
	sensor.LastHeartbeat = ts
	s.touchLocked(id, ts)
}

func (s *Store) Get(id string) (Sensor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sensor, ok := s.byID[id]
	if !ok {
		return Sensor{}, false
	}
	return *sensor, true
}

func (s *Store) GetAll() []Sensor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sensor, 0, len(s.byID))
	for _, sensor := range s.byID {
		out = append(out, *sensor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stale lists devices with no reading or heartbeat since cutoff.
func (s *Store) Stale(cutoff time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, ts := range s.updatedAt {
		if ts.Before(cutoff) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*Sensor)
	s.updatedAt = make(map[string]time.Time)
}

func (s *Store) getLocked(id string) *Sensor {
	sensor, ok := s.byID[id]
	if !ok {
		sensor = &Sensor{ID: id}
		s.byID[id] = sensor
	}
	return sensor
}

func (s *Store) touchLocked(id string, ts time.Time) {
	s.updatedAt[id] = ts
	if len(s.byID) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, ts := range s.updatedAt {
		if oldestID == "" || ts.Before(oldest) {
			oldestID = id
			oldest = ts
		}
	}
	if oldestID != "" {
		delete(s.byID, oldestID)
		delete(s.updatedAt, oldestID)
	}
}
