package stream

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type pending struct {
	consumer  string
	delivered time.Time
	count     int
}

type memGroup struct {
	next    int              // index of the first entry not yet delivered
	pending map[int]*pending // entry index → delivery state
}

type memStream struct {
	entries []Message
	groups  map[string]*memGroup
	notify  chan struct{} // closed and replaced on every append
}

// Memory is an in-process Stream with the same delivery semantics as the
// Redis implementation. Used by tests and single-process deployments.
type Memory struct {
	mu      sync.Mutex
	streams map[string]*memStream
	seq     uint64
	now     func() time.Time
}

// NewMemory creates an empty in-memory stream backend.
func NewMemory() *Memory {
	return &Memory{streams: make(map[string]*memStream), now: time.Now}
}

// SetClock replaces the time source used for idle times.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) streamLocked(name string) *memStream {
	s, ok := m.streams[name]
	if !ok {
		s = &memStream{groups: make(map[string]*memGroup), notify: make(chan struct{})}
		m.streams[name] = s
	}
	return s
}

// Append implements Stream.
func (m *Memory) Append(_ context.Context, stream string, fields map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.streamLocked(stream)
	m.seq++
	id := fmt.Sprintf("%d-0", m.seq)
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	s.entries = append(s.entries, Message{ID: id, Fields: copied})
	close(s.notify)
	s.notify = make(chan struct{})
	return id, nil
}

// EnsureGroup implements Stream.
func (m *Memory) EnsureGroup(_ context.Context, stream, group, start string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.streamLocked(stream)
	if _, ok := s.groups[group]; ok {
		return nil
	}
	g := &memGroup{pending: make(map[int]*pending)}
	switch start {
	case Oldest:
	case Latest:
		g.next = len(s.entries)
	default:
		return fmt.Errorf("ensure group %s: unsupported start %q", group, start)
	}
	s.groups[group] = g
	return nil
}

// ReadGroup implements Stream.
func (m *Memory) ReadGroup(ctx context.Context, stream, group, consumer, start string, count int64, block time.Duration) ([]Message, error) {
	if count <= 0 {
		count = 1
	}
	var deadline <-chan time.Time
	if block > 0 && start == NewMessages {
		timer := time.NewTimer(block)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		m.mu.Lock()
		s, ok := m.streams[stream]
		if !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("read %s/%s: %w", stream, group, ErrNoGroup)
		}
		g, ok := s.groups[group]
		if !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("read %s/%s: %w", stream, group, ErrNoGroup)
		}

		if start != NewMessages {
			out := m.backlogLocked(s, g, consumer, count)
			m.mu.Unlock()
			return out, nil
		}

		var out []Message
		now := m.now()
		for g.next < len(s.entries) && int64(len(out)) < count {
			g.pending[g.next] = &pending{consumer: consumer, delivered: now, count: 1}
			out = append(out, s.entries[g.next])
			g.next++
		}
		notify := s.notify
		m.mu.Unlock()

		if len(out) > 0 || deadline == nil {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, nil
		case <-notify:
		}
	}
}

func (m *Memory) backlogLocked(s *memStream, g *memGroup, consumer string, count int64) []Message {
	var out []Message
	now := m.now()
	for i := 0; i < g.next && int64(len(out)) < count; i++ {
		p, ok := g.pending[i]
		if !ok || p.consumer != consumer {
			continue
		}
		p.delivered = now
		p.count++
		out = append(out, s.entries[i])
	}
	return out
}

// Ack implements Stream.
func (m *Memory) Ack(_ context.Context, stream, group string, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[stream]
	if !ok {
		return fmt.Errorf("ack %s/%s: %w", stream, group, ErrNoGroup)
	}
	g, ok := s.groups[group]
	if !ok {
		return fmt.Errorf("ack %s/%s: %w", stream, group, ErrNoGroup)
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for i := range g.pending {
		if _, ok := want[s.entries[i].ID]; ok {
			delete(g.pending, i)
		}
	}
	return nil
}

// Claim implements Stream.
func (m *Memory) Claim(_ context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[stream]
	if !ok {
		return nil, fmt.Errorf("claim %s/%s: %w", stream, group, ErrNoGroup)
	}
	g, ok := s.groups[group]
	if !ok {
		return nil, fmt.Errorf("claim %s/%s: %w", stream, group, ErrNoGroup)
	}
	if count <= 0 {
		count = 1
	}
	var out []Message
	now := m.now()
	for i := 0; i < g.next && int64(len(out)) < count; i++ {
		p, ok := g.pending[i]
		if !ok || now.Sub(p.delivered) < minIdle {
			continue
		}
		p.consumer = consumer
		p.delivered = now
		p.count++
		out = append(out, s.entries[i])
	}
	return out, nil
}

// Pending returns how many entries of group are delivered but not acked.
func (m *Memory) Pending(stream, group string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[stream]
	if !ok {
		return 0
	}
	g, ok := s.groups[group]
	if !ok {
		return 0
	}
	return len(g.pending)
}

// Len returns the number of entries in stream.
func (m *Memory) Len(stream string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[stream]; ok {
		return len(s.entries)
	}
	return 0
}
