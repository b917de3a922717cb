package vislam

import (
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// pointCloudEveryNFrames controls how often the mock engine produces a new
// point-cloud generation.
const pointCloudEveryNFrames = 5

// MockEngine is a deterministic stand-in for the estimation engine, used in
// dev mode and tests. It dead-reckons orientation from gyro samples and emits
// a small synthetic map every few frames. It performs no real estimation.
type MockEngine struct {
	mu sync.Mutex

	// FailFrame, when set, is consulted per frame submission; a non-nil
	// return rejects the frame.
	FailFrame func(frameID int64) error
	// FailSample, when set, is consulted per IMU sample.
	FailSample func(timestampNs int64) error

	frames       []int64
	samples      []ImuSample
	orientation  quat.Number
	position     r3.Vec
	lastSampleTs int64

	pose    PoseResult
	hasPose bool

	points     []MapPoint
	generation uint32
	fresh      bool

	closed bool
	resets int
}

// NewMockEngine returns a mock engine at the identity pose.
func NewMockEngine() *MockEngine {
	return &MockEngine{orientation: quat.Number{Real: 1}}
}

// NewMockEngineFactory adapts a pre-built mock engine into an EngineFactory,
// ignoring the init params. Useful for tests that need a handle on the engine
// the manager will use.
func NewMockEngineFactory(e *MockEngine) EngineFactory {
	return func(InitParams) (Engine, error) { return e, nil }
}

// AddMotionSample integrates the gyro reading into the mock orientation.
func (e *MockEngine) AddMotionSample(sample ImuSample) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailSample != nil {
		if err := e.FailSample(sample.TimestampNs); err != nil {
			return err
		}
	}
	if e.lastSampleTs != 0 {
		dt := float64(sample.TimestampNs-e.lastSampleTs) / 1e9
		e.orientation = IntegrateRotation(e.orientation, sample.AngularVelocity, dt)
	}
	e.lastSampleTs = sample.TimestampNs
	e.samples = append(e.samples, sample)
	return nil
}

// AddImageFrame records the frame and refreshes the mock pose. Every few
// accepted frames a new point-cloud generation is produced.
func (e *MockEngine) AddImageFrame(frame *CameraFrame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailFrame != nil {
		if err := e.FailFrame(frame.FrameID); err != nil {
			return err
		}
	}
	e.frames = append(e.frames, frame.FrameID)
	// Nudge the position so recorded trajectories are not a single point.
	e.position = r3.Add(e.position, QuatRotate(e.orientation, r3.Vec{X: 0.01}))

	cov := mat.NewSymDense(6, nil)
	for i := 0; i < 6; i++ {
		cov.SetSym(i, i, 0.01)
	}
	e.pose = PoseResult{
		Pose: Pose{
			Position:    e.position,
			Orientation: e.orientation,
			Covariance:  cov,
		},
		FrameID:     frame.FrameID,
		TimestampNs: frame.TimestampNs,
	}
	e.hasPose = true

	if len(e.frames)%pointCloudEveryNFrames == 0 {
		e.generation++
		e.points = e.points[:0]
		for i := 0; i < 8; i++ {
			offset := r3.Vec{X: float64(i) * 0.1, Y: 0.5, Z: 1.0}
			e.points = append(e.points, MapPoint{
				ID:       e.generation<<8 | uint32(i),
				Position: e.pose.Pose.TransformPoint(offset),
				Quality:  0.9,
			})
		}
		e.fresh = true
	}
	return nil
}

// HasUpdatedPointCloud reports and consumes the freshness flag: true at most
// once per generation.
func (e *MockEngine) HasUpdatedPointCloud() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	fresh := e.fresh
	e.fresh = false
	return fresh
}

// Pose returns the pose of the last accepted frame.
func (e *MockEngine) Pose() (PoseResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasPose {
		return PoseResult{}, ErrPoseNotReady
	}
	return e.pose, nil
}

// PointCloud copies up to len(dst) points and consumes the freshness flag.
func (e *MockEngine) PointCloud(dst []MapPoint) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := copy(dst, e.points)
	e.fresh = false
	return n
}

// Reset clears the mock filters back to the identity pose.
func (e *MockEngine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orientation = quat.Number{Real: 1}
	e.position = r3.Vec{}
	e.lastSampleTs = 0
	e.pose = PoseResult{}
	e.hasPose = false
	e.points = nil
	e.fresh = false
	e.resets++
	return nil
}

// Close marks the engine closed.
func (e *MockEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// SubmittedFrameIDs returns the ids of every accepted frame, in order.
func (e *MockEngine) SubmittedFrameIDs() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int64, len(e.frames))
	copy(out, e.frames)
	return out
}

// Samples returns every forwarded IMU sample, in order.
func (e *MockEngine) Samples() []ImuSample {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ImuSample, len(e.samples))
	copy(out, e.samples)
	return out
}

// Resets returns how many times Reset was called.
func (e *MockEngine) Resets() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resets
}

// Closed reports whether Close was called.
func (e *MockEngine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
