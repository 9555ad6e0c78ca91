package engine

import (
	"sync"
	"time"
)

type lastNote struct {
	noteID int
	at     time.Time
}

// NoteCooldown remembers the last note played per sensor.
type NoteCooldown struct {
	mu   sync.Mutex
	last map[int]lastNote
}

func NewNoteCooldown() *NoteCooldown {
	return &NoteCooldown{last: make(map[int]lastNote)}
}

// Allow reports whether noteID may play on sensorID at now and, if so,
// records it. A different note always plays; the same note plays again only
// once more than cooldown has elapsed.
func (c *NoteCooldown) Allow(sensorID, noteID int, now time.Time, cooldown time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.last[sensorID]; ok && prev.noteID == noteID {
		if cooldown > 0 && now.Sub(prev.at) <= cooldown {
			return false
		}
	}
	c.last[sensorID] = lastNote{noteID: noteID, at: now}
	return true
}

func (c *NoteCooldown) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = make(map[int]lastNote)
}
