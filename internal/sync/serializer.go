package sync

import gosync "sync"

// Serializer is the single mutual-exclusion point for local-store mutations.
// Pull batches, per-message push acks, realtime applies and user-initiated
// writes all run inside Do, so no two write transactions ever interleave.
type Serializer struct {
	mu gosync.Mutex
}

// NewSerializer creates a write serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Do runs fn while holding the write lock.
func (s *Serializer) Do(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}
