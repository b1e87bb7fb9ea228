package output

import (
	"sort"
	"sync"
	"time"
)

// Store holds a rolling history per channel plus one global history across
// all channels. Both are updated under a single lock, so a reader never sees
// a line in one history but not the other.
type Store struct {
	mu       sync.RWMutex
	capacity int
	seq      uint64
	global   *Ring[LogLine]
	channels map[string]*Ring[LogLine]
	now      func() time.Time
}

// NewStore creates a store whose histories each keep up to capacity lines.
// If capacity <= 0, DefaultCapacity is used.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		global:   NewRing[LogLine](capacity),
		channels: make(map[string]*Ring[LogLine]),
		now:      time.Now,
	}
}

// Append assigns the next sequence number and timestamp to a new line and
// stores it.
func (s *Store) Append(channelID string, kind Kind, message string) LogLine {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	line := LogLine{
		Seq:       s.seq,
		ChannelID: channelID,
		Message:   message,
		Kind:      kind,
		Time:      s.now(),
	}

	ring, ok := s.channels[channelID]
	if !ok {
		ring = NewRing[LogLine](s.capacity)
		s.channels[channelID] = ring
	}
	ring.Push(line)
	s.global.Push(line)

	return line
}

// Lines returns the history of one channel, oldest first.
func (s *Store) Lines(channelID string) []LogLine {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ring, ok := s.channels[channelID]
	if !ok {
		return []LogLine{}
	}
	return ring.Snapshot()
}

// All returns the global history, oldest first.
func (s *Store) All() []LogLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global.Snapshot()
}

// Clear drops a channel's history from both the channel and global stores.
// Sequence numbers are never reused.
func (s *Store) Clear(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.channels, channelID)
	s.global.Retain(func(l LogLine) bool { return l.ChannelID != channelID })
}

// Channels returns the IDs that currently have history, sorted.
func (s *Store) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LastSeq returns the most recently assigned sequence number.
func (s *Store) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}
