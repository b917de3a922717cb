package imu

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ChristophTobler/ros-examples/internal/vislam"
)

// MockSource is an in-process IMU source. Tests drive it with Emit; dev mode
// runs Generate for a plausible gravity-plus-wobble stream.
type MockSource struct {
	subs subscribers
}

// NewMockSource creates an empty mock source.
func NewMockSource() *MockSource {
	return &MockSource{}
}

// Subscribe registers a sample callback and returns its id.
func (m *MockSource) Subscribe(fn func(vislam.ImuSample)) string {
	return m.subs.add(fn)
}

// Unsubscribe removes a callback.
func (m *MockSource) Unsubscribe(id string) {
	m.subs.remove(id)
}

// Emit delivers one sample synchronously to every subscriber.
func (m *MockSource) Emit(sample vislam.ImuSample) {
	m.subs.dispatch(sample)
}

// Generate emits synthetic samples at the given rate until the context is
// cancelled: gravity on Z with a slow sinusoidal wobble on the gyro.
func (m *MockSource) Generate(ctx context.Context, rate time.Duration) {
	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t := now.Sub(start).Seconds()
			m.Emit(vislam.ImuSample{
				TimestampNs:        now.UnixNano(),
				LinearAcceleration: r3.Vec{X: 0.05 * math.Sin(t), Y: 0.05 * math.Cos(t), Z: 9.81},
				AngularVelocity:    r3.Vec{Z: 0.1 * math.Sin(t / 2)},
			})
		}
	}
}
