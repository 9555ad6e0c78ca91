package worker

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool runs fire-and-forget tasks with a hard cap on how many run at once.
// Work submitted while the pool is saturated is dropped, not queued.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Go starts fn in the background and reports false if the pool is full.
func (p *Pool) Go(fn func()) bool {
	if !p.sem.TryAcquire(1) {
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		fn()
	}()
	return true
}

// Wait blocks until every started task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
