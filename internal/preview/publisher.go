package preview

import (
	"sync"
	"time"

	"github.com/conneroisu/mermaidlive/internal/cache"
	"github.com/conneroisu/mermaidlive/internal/renderer"
)

// Observer receives every status transition.
type Observer func(Status)

type subscription struct {
	id uint64
	fn Observer
}

// Publisher exposes the current status and notifies observers synchronously,
// in registration order, on every transition. Notifications are neither
// buffered nor coalesced.
//
// Mutators are called only from the pipeline loop; Subscribe and Current are
// safe from any goroutine.
type Publisher struct {
	current Status
	subs    []subscription
	nextID  uint64
	mutex   sync.RWMutex
}

// NewPublisher creates a publisher in the Idle state.
func NewPublisher() *Publisher {
	return &Publisher{
		current: Status{State: StateIdle, UpdatedAt: time.Now()},
	}
}

// Subscribe registers fn and returns a function that removes it.
func (p *Publisher) Subscribe(fn Observer) (unsubscribe func()) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.nextID++
	id := p.nextID
	p.subs = append(p.subs, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mutex.Lock()
			defer p.mutex.Unlock()
			for i, s := range p.subs {
				if s.id == id {
					p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Current returns the latest published status.
func (p *Publisher) Current() Status {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.current
}

// transition moves to state for sequence, keeping the artifact on display.
func (p *Publisher) transition(state State, sequence uint64) {
	p.publish(func(s *Status) {
		s.State = state
		s.Sequence = sequence
		s.Err = ""
	})
}

func (p *Publisher) ready(sequence uint64, fp cache.Fingerprint, artifact *renderer.Artifact, fromCache bool) {
	p.publish(func(s *Status) {
		s.State = StateReady
		s.Sequence = sequence
		s.Fingerprint = fp
		s.Artifact = artifact
		s.FromCache = fromCache
		s.Err = ""
	})
}

// fail publishes an error; the previous artifact stays on display.
func (p *Publisher) fail(sequence uint64, message string) {
	p.publish(func(s *Status) {
		s.State = StateError
		s.Sequence = sequence
		s.Err = message
	})
}

// clear returns to Idle with nothing on display.
func (p *Publisher) clear(sequence uint64) {
	p.publish(func(s *Status) {
		*s = Status{State: StateIdle, Sequence: sequence}
	})
}

func (p *Publisher) publish(update func(*Status)) {
	p.mutex.Lock()
	update(&p.current)
	p.current.UpdatedAt = time.Now()
	status := p.current
	subs := make([]subscription, len(p.subs))
	copy(subs, p.subs)
	p.mutex.Unlock()

	for _, s := range subs {
		s.fn(status)
	}
}
