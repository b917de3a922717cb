// Package imu provides inertial sample sources for the vislam manager.
// Sources deliver samples asynchronously to registered callbacks; the
// serial-backed source reads line-oriented samples from a serial device,
// and the mock source drives tests and dev mode.
package imu

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/ChristophTobler/ros-examples/internal/vislam"
)

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// subscribers is a callback registry shared by the sources in this package.
// Dispatch runs callbacks synchronously on the delivery goroutine, outside the
// registry lock.
type subscribers struct {
	mu  sync.Mutex
	fns map[string]func(vislam.ImuSample)
}

func (s *subscribers) add(fn func(vislam.ImuSample)) string {
	id := randomID()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[string]func(vislam.ImuSample))
	}
	s.fns[id] = fn
	return id
}

func (s *subscribers) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fns, id)
}

// dispatch delivers a sample to every callback registered at snapshot time.
// The lock is released before the callbacks run, so a callback blocked on a
// downstream lock never blocks Subscribe or Unsubscribe. A delivery already
// snapshotted can therefore arrive after Unsubscribe returns; receivers gate
// late deliveries themselves.
func (s *subscribers) dispatch(sample vislam.ImuSample) {
	s.mu.Lock()
	fns := make([]func(vislam.ImuSample), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(sample)
	}
}
