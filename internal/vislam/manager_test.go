package vislam

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

// scriptCamera is a test camera fed explicitly with frames. It tracks buffer
// releases so tests can assert no frame outlives the pipeline.
type scriptCamera struct {
	mu       sync.Mutex
	frames   chan *CameraFrame
	stopCh   chan struct{}
	running  bool
	initErr  error
	startErr error

	acquired int64
	released int64
}

func newScriptCamera() *scriptCamera {
	return &scriptCamera{frames: make(chan *CameraFrame, 64)}
}

func (c *scriptCamera) Initialize(params CameraParameters) error { return c.initErr }

func (c *scriptCamera) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.stopCh = make(chan struct{})
	c.running = true
	return nil
}

func (c *scriptCamera) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		close(c.stopCh)
		c.running = false
	}
	return nil
}

func (c *scriptCamera) NextFrame() (*CameraFrame, error) {
	c.mu.Lock()
	stopCh, running := c.stopCh, c.running
	c.mu.Unlock()
	if !running {
		return nil, ErrCameraStopped
	}
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-stopCh:
		return nil, ErrCameraStopped
	}
}

// Feed injects one frame, with a release hook tracking buffer lifetime.
func (c *scriptCamera) Feed(id int64) {
	atomic.AddInt64(&c.acquired, 1)
	c.frames <- NewCameraFrame(id, make([]byte, 16), id*1_000_000, func() {
		atomic.AddInt64(&c.released, 1)
	})
}

func (c *scriptCamera) outstanding() int64 {
	return atomic.LoadInt64(&c.acquired) - atomic.LoadInt64(&c.released)
}

// stubImuSource delivers samples synchronously from the test goroutine.
type stubImuSource struct {
	mu   sync.Mutex
	fns  map[string]func(ImuSample)
	next int
}

func newStubImuSource() *stubImuSource {
	return &stubImuSource{fns: make(map[string]func(ImuSample))}
}

func (s *stubImuSource) Subscribe(fn func(ImuSample)) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := fmt.Sprintf("sub-%d", s.next)
	s.fns[id] = fn
	return id
}

func (s *stubImuSource) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fns, id)
}

func (s *stubImuSource) Emit(sample ImuSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fn := range s.fns {
		fn(sample)
	}
}

func (s *stubImuSource) subscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

func validCamParams() CameraParameters {
	return CameraParameters{Width: 640, Height: 480, FrameRate: 30}
}

func validInitParams() InitParams {
	return InitParams{
		StdAccelMeasNoise: 0.316,
		StdGyroMeasNoise:  1e-2,
		StdCamNoise:       100,
		MinStdPixelNoise:  0.5,
		AccelMeasRange:    156,
		GyroMeasRange:     34,
	}
}

func newTestManager(t *testing.T) (*Manager, *scriptCamera, *stubImuSource, *MockEngine) {
	t.Helper()
	cam := newScriptCamera()
	src := newStubImuSource()
	engine := NewMockEngine()
	mgr, err := NewManager(ManagerConfig{
		Camera:    cam,
		Imu:       src,
		NewEngine: NewMockEngineFactory(engine),
	})
	require.NoError(t, err)
	return mgr, cam, src, engine
}

func TestNewManagerRequiresCollaborators(t *testing.T) {
	_, err := NewManager(ManagerConfig{})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewManager(ManagerConfig{Camera: newScriptCamera()})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewManager(ManagerConfig{Camera: newScriptCamera(), Imu: newStubImuSource()})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestStartBeforeInitialize(t *testing.T) {
	mgr, _, src, _ := newTestManager(t)

	err := mgr.Start()
	assert.ErrorIs(t, err, ErrNotInitialized)
	// No side effects: no subscription was made.
	assert.Equal(t, 0, src.subscriberCount())
	assert.Equal(t, StateUninitialized, mgr.State())
}

func TestInitializeValidation(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)

	bad := validInitParams()
	bad.StdGyroMeasNoise = -1
	err := mgr.Initialize(validCamParams(), bad)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, StateUninitialized, mgr.State())

	err = mgr.Initialize(CameraParameters{Width: 0, Height: 480, FrameRate: 30}, validInitParams())
	assert.ErrorIs(t, err, ErrConfiguration)

	require.NoError(t, mgr.Initialize(validCamParams(), validInitParams()))
	assert.Equal(t, StateInitialized, mgr.State())

	// Initialize is only valid from uninitialized.
	err = mgr.Initialize(validCamParams(), validInitParams())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestEngineInitFailure(t *testing.T) {
	cam := newScriptCamera()
	mgr, err := NewManager(ManagerConfig{
		Camera: cam,
		Imu:    newStubImuSource(),
		NewEngine: func(InitParams) (Engine, error) {
			return nil, errors.New("sdk unavailable")
		},
	})
	require.NoError(t, err)

	err = mgr.Initialize(validCamParams(), validInitParams())
	assert.ErrorIs(t, err, ErrEngineInit)
	assert.Equal(t, StateUninitialized, mgr.State())
}

func TestPipelineSubmitsFramesInOrder(t *testing.T) {
	mgr, cam, src, engine := newTestManager(t)
	require.NoError(t, mgr.Initialize(validCamParams(), validInitParams()))
	require.NoError(t, mgr.Start())
	assert.Equal(t, StateStarted, mgr.State())
	assert.Equal(t, 1, src.subscriberCount())

	const n = 10
	for i := int64(0); i < n; i++ {
		cam.Feed(i)
	}

	require.Eventually(t, func() bool {
		return len(engine.SubmittedFrameIDs()) == n
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, mgr.Stop())

	ids := engine.SubmittedFrameIDs()
	require.Len(t, ids, n)
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1], "frame ids must be strictly increasing")
	}

	// Every frame buffer was released on its way through.
	assert.Equal(t, int64(0), cam.outstanding())

	result, err := mgr.GetPose()
	require.NoError(t, err)
	assert.Equal(t, int64(n-1), result.FrameID)
	assert.Equal(t, int64(n-1), mgr.LastSubmittedFrameID())
}

func TestImuMonotonicityEnforced(t *testing.T) {
	mgr, _, src, engine := newTestManager(t)
	require.NoError(t, mgr.Initialize(validCamParams(), validInitParams()))
	require.NoError(t, mgr.Start())

	sample := func(ts int64) ImuSample {
		return ImuSample{TimestampNs: ts, LinearAcceleration: r3.Vec{Z: 9.81}}
	}

	src.Emit(sample(100))
	src.Emit(sample(200))
	src.Emit(sample(200)) // duplicate: dropped
	src.Emit(sample(150)) // regression: dropped
	src.Emit(sample(300))

	require.NoError(t, mgr.Stop())

	samples := engine.Samples()
	require.Len(t, samples, 3)
	assert.Equal(t, int64(100), samples[0].TimestampNs)
	assert.Equal(t, int64(200), samples[1].TimestampNs)
	assert.Equal(t, int64(300), samples[2].TimestampNs)

	snap := mgr.Stats().Snapshot()
	assert.Equal(t, int64(3), snap.ImuForwarded)
	assert.Equal(t, int64(2), snap.ImuRejected)
}

func TestImuIgnoredOutsideStarted(t *testing.T) {
	mgr, _, src, engine := newTestManager(t)
	require.NoError(t, mgr.Initialize(validCamParams(), validInitParams()))

	// Not started yet: delivery context may still race with lifecycle, so
	// samples are ignored without counting them as rejected.
	mgr.onImuSample(ImuSample{TimestampNs: 50})
	assert.Empty(t, engine.Samples())

	require.NoError(t, mgr.Start())
	src.Emit(ImuSample{TimestampNs: 100})
	require.NoError(t, mgr.Stop())
	require.Len(t, engine.Samples(), 1)

	// After stop the subscription is gone and direct calls are rejected.
	assert.Equal(t, 0, src.subscriberCount())
	mgr.onImuSample(ImuSample{TimestampNs: 200})
	assert.Len(t, engine.Samples(), 1)
	assert.Equal(t, int64(0), mgr.Stats().Snapshot().ImuRejected)
}

func TestSubmitFailureDoesNotHaltPipeline(t *testing.T) {
	mgr, cam, _, engine := newTestManager(t)
	engine.FailFrame = func(frameID int64) error {
		if frameID == 3 {
			return errors.New("tracking lost")
		}
		return nil
	}

	require.NoError(t, mgr.Initialize(validCamParams(), validInitParams()))
	require.NoError(t, mgr.Start())

	for i := int64(0); i < 6; i++ {
		cam.Feed(i)
	}

	require.Eventually(t, func() bool {
		return len(engine.SubmittedFrameIDs()) == 5
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, mgr.Stop())

	assert.Equal(t, []int64{0, 1, 2, 4, 5}, engine.SubmittedFrameIDs())
	assert.Equal(t, int64(0), cam.outstanding(), "rejected frame must still be released")

	snap := mgr.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.SubmitFailures)
	assert.Equal(t, int64(5), snap.FramesSubmitted)
	assert.Equal(t, int64(5), mgr.LastSubmittedFrameID())
}

func TestStopIsIdempotent(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)
	require.NoError(t, mgr.Initialize(validCamParams(), validInitParams()))

	// Stop from initialized (never started) is a lifecycle error.
	assert.ErrorIs(t, mgr.Stop(), ErrInvalidState)

	require.NoError(t, mgr.Start())
	require.NoError(t, mgr.Stop())
	assert.Equal(t, StateStopped, mgr.State())

	// Second stop is a no-op.
	require.NoError(t, mgr.Stop())
	assert.Equal(t, StateStopped, mgr.State())
}

func TestRestartAfterStop(t *testing.T) {
	mgr, cam, _, engine := newTestManager(t)
	require.NoError(t, mgr.Initialize(validCamParams(), validInitParams()))

	require.NoError(t, mgr.Start())
	cam.Feed(0)
	require.Eventually(t, func() bool {
		return len(engine.SubmittedFrameIDs()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, mgr.Stop())

	require.NoError(t, mgr.Start())
	cam.Feed(1)
	require.Eventually(t, func() bool {
		return len(engine.SubmittedFrameIDs()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, mgr.Stop())

	assert.Equal(t, []int64{0, 1}, engine.SubmittedFrameIDs())
}

func TestWorkerJoinTimeout(t *testing.T) {
	cam := newScriptCamera()
	engine := NewMockEngine()
	unblock := make(chan struct{})
	engine.FailFrame = func(int64) error {
		<-unblock
		return nil
	}
	defer close(unblock)

	mgr, err := NewManager(ManagerConfig{
		Camera:      cam,
		Imu:         newStubImuSource(),
		NewEngine:   NewMockEngineFactory(engine),
		JoinTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, mgr.Initialize(validCamParams(), validInitParams()))
	require.NoError(t, mgr.Start())
	cam.Feed(0)

	// Give the worker time to get stuck inside the engine call.
	time.Sleep(50 * time.Millisecond)

	err = mgr.Stop()
	assert.ErrorIs(t, err, ErrWorkerJoinTimeout)
	assert.Equal(t, StateStopped, mgr.State())
}

func TestGetPoseNotReady(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)

	_, err := mgr.GetPose()
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, mgr.Initialize(validCamParams(), validInitParams()))
	_, err = mgr.GetPose()
	assert.ErrorIs(t, err, ErrPoseNotReady)
}

func TestPointCloudAccessors(t *testing.T) {
	mgr, cam, _, engine := newTestManager(t)
	require.NoError(t, mgr.Initialize(validCamParams(), validInitParams()))

	assert.False(t, mgr.HasUpdatedPointCloud())
	assert.Equal(t, 0, mgr.GetPointCloud(make([]MapPoint, 4)))

	require.NoError(t, mgr.Start())
	// The mock engine emits a new generation every few frames.
	for i := int64(0); i < pointCloudEveryNFrames; i++ {
		cam.Feed(i)
	}
	require.Eventually(t, func() bool {
		return len(engine.SubmittedFrameIDs()) == pointCloudEveryNFrames
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, mgr.Stop())

	// Freshness reads true at most once per generation.
	assert.True(t, mgr.HasUpdatedPointCloud())
	assert.False(t, mgr.HasUpdatedPointCloud())

	// GetPointCloud never copies more than the destination holds.
	small := make([]MapPoint, 3)
	assert.Equal(t, 3, mgr.GetPointCloud(small))

	large := make([]MapPoint, 64)
	n := mgr.GetPointCloud(large)
	assert.Greater(t, n, 0)
	assert.LessOrEqual(t, n, len(large))
}

func TestResetLifecycle(t *testing.T) {
	mgr, cam, _, engine := newTestManager(t)

	assert.ErrorIs(t, mgr.Reset(), ErrNotInitialized)

	require.NoError(t, mgr.Initialize(validCamParams(), validInitParams()))
	require.NoError(t, mgr.Reset())
	assert.Equal(t, 1, engine.Resets())

	require.NoError(t, mgr.Start())
	cam.Feed(0)
	require.Eventually(t, func() bool {
		return len(engine.SubmittedFrameIDs()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Reset while started clears the filters without tearing the pipeline down.
	require.NoError(t, mgr.Reset())
	assert.Equal(t, 2, engine.Resets())
	_, err := mgr.GetPose()
	assert.ErrorIs(t, err, ErrPoseNotReady)

	require.NoError(t, mgr.Stop())
}

func TestCloseFromAnyState(t *testing.T) {
	// Close on a fresh manager.
	mgr, _, _, _ := newTestManager(t)
	require.NoError(t, mgr.Close())
	assert.ErrorIs(t, mgr.Start(), ErrClosed)
	require.NoError(t, mgr.Close()) // idempotent

	// Close while started performs an implicit stop and releases everything.
	mgr2, cam, src, engine := newTestManager(t)
	require.NoError(t, mgr2.Initialize(validCamParams(), validInitParams()))
	require.NoError(t, mgr2.Start())
	cam.Feed(0)
	require.Eventually(t, func() bool {
		return len(engine.SubmittedFrameIDs()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, mgr2.Close())
	assert.True(t, engine.Closed())
	assert.Equal(t, 0, src.subscriberCount())
	assert.Equal(t, int64(0), cam.outstanding())

	_, err := mgr2.GetPose()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestPoseSinkReceivesPoses(t *testing.T) {
	cam := newScriptCamera()
	engine := NewMockEngine()
	sink := &captureSink{}
	mgr, err := NewManager(ManagerConfig{
		Camera:    cam,
		Imu:       newStubImuSource(),
		NewEngine: NewMockEngineFactory(engine),
		PoseSink:  sink,
	})
	require.NoError(t, err)

	require.NoError(t, mgr.Initialize(validCamParams(), validInitParams()))
	require.NoError(t, mgr.Start())
	for i := int64(0); i < 4; i++ {
		cam.Feed(i)
	}
	require.Eventually(t, func() bool {
		return sink.count() == 4
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, mgr.Stop())

	results := sink.results()
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, int64(i), r.FrameID)
	}
}

func TestPointCloudSinkReceivesSnapshots(t *testing.T) {
	cam := newScriptCamera()
	engine := NewMockEngine()
	sink := &cloudCaptureSink{}
	mgr, err := NewManager(ManagerConfig{
		Camera:    cam,
		Imu:       newStubImuSource(),
		NewEngine: NewMockEngineFactory(engine),
		PoseSink:  sink,
	})
	require.NoError(t, err)

	require.NoError(t, mgr.Initialize(validCamParams(), validInitParams()))
	require.NoError(t, mgr.Start())
	for i := int64(0); i < 2*pointCloudEveryNFrames; i++ {
		cam.Feed(i)
	}
	require.Eventually(t, func() bool {
		return sink.cloudCount() == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, mgr.Stop())

	// One snapshot per generation, keyed by the frame that produced it.
	clouds := sink.cloudSnapshots()
	require.Len(t, clouds, 2)
	first := clouds[pointCloudEveryNFrames-1]
	require.NotEmpty(t, first)
	assert.Len(t, first, 8)
	assert.NotEmpty(t, clouds[2*pointCloudEveryNFrames-1])

	// Recording consumed each generation's freshness.
	assert.False(t, mgr.HasUpdatedPointCloud())

	// Poses were still recorded alongside.
	assert.Equal(t, 2*pointCloudEveryNFrames, sink.count())
}

func TestPoseOnlySinkSkipsPointClouds(t *testing.T) {
	cam := newScriptCamera()
	engine := NewMockEngine()
	mgr, err := NewManager(ManagerConfig{
		Camera:    cam,
		Imu:       newStubImuSource(),
		NewEngine: NewMockEngineFactory(engine),
		PoseSink:  &captureSink{},
	})
	require.NoError(t, err)

	require.NoError(t, mgr.Initialize(validCamParams(), validInitParams()))
	require.NoError(t, mgr.Start())
	for i := int64(0); i < pointCloudEveryNFrames; i++ {
		cam.Feed(i)
	}
	require.Eventually(t, func() bool {
		return len(engine.SubmittedFrameIDs()) == pointCloudEveryNFrames
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, mgr.Stop())

	// A pose-only sink must not consume the point-cloud freshness.
	assert.True(t, mgr.HasUpdatedPointCloud())
}

func TestCloseAfterJoinTimeoutDoesNotPanicWorker(t *testing.T) {
	cam := newScriptCamera()
	engine := NewMockEngine()
	unblock := make(chan struct{})
	engine.FailFrame = func(int64) error {
		<-unblock
		return nil
	}

	mgr, err := NewManager(ManagerConfig{
		Camera:      cam,
		Imu:         newStubImuSource(),
		NewEngine:   NewMockEngineFactory(engine),
		PoseSink:    &captureSink{},
		JoinTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, mgr.Initialize(validCamParams(), validInitParams()))
	require.NoError(t, mgr.Start())
	cam.Feed(0)
	time.Sleep(50 * time.Millisecond)

	require.ErrorIs(t, mgr.Stop(), ErrWorkerJoinTimeout)

	// Close parks on the engine lock behind the wedged worker and nils the
	// engine once it gets through; the resuming worker must degrade, not
	// panic on the nil engine.
	closeDone := make(chan error, 1)
	go func() { closeDone <- mgr.Close() }()
	time.Sleep(50 * time.Millisecond)
	close(unblock)

	select {
	case err := <-closeDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the engine unwedged")
	}
	assert.True(t, engine.Closed())
}

type captureSink struct {
	mu   sync.Mutex
	recs []PoseResult
}

func (s *captureSink) RecordPose(result PoseResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, result)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

func (s *captureSink) results() []PoseResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PoseResult, len(s.recs))
	copy(out, s.recs)
	return out
}

// cloudCaptureSink additionally captures point-cloud snapshots by frame id.
type cloudCaptureSink struct {
	captureSink
	cloudMu sync.Mutex
	clouds  map[int64][]MapPoint
}

func (s *cloudCaptureSink) RecordPointCloud(frameID int64, points []MapPoint) error {
	cp := make([]MapPoint, len(points))
	copy(cp, points)
	s.cloudMu.Lock()
	defer s.cloudMu.Unlock()
	if s.clouds == nil {
		s.clouds = make(map[int64][]MapPoint)
	}
	s.clouds[frameID] = cp
	return nil
}

func (s *cloudCaptureSink) cloudCount() int {
	s.cloudMu.Lock()
	defer s.cloudMu.Unlock()
	return len(s.clouds)
}

func (s *cloudCaptureSink) cloudSnapshots() map[int64][]MapPoint {
	s.cloudMu.Lock()
	defer s.cloudMu.Unlock()
	out := make(map[int64][]MapPoint, len(s.clouds))
	for id, pts := range s.clouds {
		out[id] = pts
	}
	return out
}
