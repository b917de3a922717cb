package vislam

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultJoinTimeout bounds the wait for the orchestration worker to exit
// after Stop. A worker that fails to join within the bound indicates a stuck
// engine call and is surfaced as ErrWorkerJoinTimeout.
const DefaultJoinTimeout = 5 * time.Second

// acquireMissBackoff spaces retries after a transient camera miss so a
// polling camera subsystem does not spin the acquisition bridge.
const acquireMissBackoff = 5 * time.Millisecond

// maxRecordedPoints caps the point-cloud snapshot copied per recording.
const maxRecordedPoints = 4096

// ManagerConfig contains configuration options for the manager.
type ManagerConfig struct {
	Camera    Camera
	Imu       ImuSource
	NewEngine EngineFactory

	// QueueDepth bounds the frame queue (default DefaultQueueDepth).
	// Overflow evicts the oldest unprocessed frame.
	QueueDepth int
	// JoinTimeout bounds Stop's wait for the worker (default
	// DefaultJoinTimeout).
	JoinTimeout time.Duration
	// StatsLogInterval enables periodic stats logging while started.
	// Zero disables logging; counters are still maintained.
	StatsLogInterval time.Duration
	// Stats receives pipeline counters. A new instance is created when nil.
	Stats *PipelineStats
	// PoseSink, when set, receives the engine pose after each successfully
	// submitted frame.
	PoseSink PoseSink
}

// Manager synchronizes the camera and IMU streams into the estimation engine
// and owns the initialized/started/stopped lifecycle.
//
// Lock discipline: stateMu serializes lifecycle transitions only. engineMu
// guards every call into the engine plus the last-forwarded IMU timestamp and
// the running flag, because the engine is not reentrant across its two
// ingestion paths. The frame queue has its own internal lock. No code path
// holds the queue lock and engineMu at the same time.
type Manager struct {
	camera    Camera
	imu       ImuSource
	newEngine EngineFactory

	queueDepth       int
	joinTimeout      time.Duration
	statsLogInterval time.Duration
	stats            *PipelineStats
	sink             PoseSink

	stateMu sync.Mutex
	state   LifecycleState
	closed  bool

	engineMu           sync.Mutex
	engine             Engine
	running            atomic.Bool
	lastImuTimestampNs int64
	lastFrameID        int64

	camParams  CameraParameters
	initParams InitParams

	// Per-run fields, written under stateMu while stopped.
	queue      *FrameQueue
	imuSubID   string
	cancelRun  context.CancelFunc
	bridgeDone chan struct{}
	workerDone chan struct{}
}

// NewManager creates a manager wired to the given camera subsystem, IMU
// source and engine factory. The engine itself is constructed at Initialize.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Camera == nil {
		return nil, fmt.Errorf("%w: camera subsystem is required", ErrConfiguration)
	}
	if config.Imu == nil {
		return nil, fmt.Errorf("%w: imu source is required", ErrConfiguration)
	}
	if config.NewEngine == nil {
		return nil, fmt.Errorf("%w: engine factory is required", ErrConfiguration)
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = DefaultQueueDepth
	}
	if config.JoinTimeout <= 0 {
		config.JoinTimeout = DefaultJoinTimeout
	}
	if config.Stats == nil {
		config.Stats = NewPipelineStats()
	}
	return &Manager{
		camera:           config.Camera,
		imu:              config.Imu,
		newEngine:        config.NewEngine,
		queueDepth:       config.QueueDepth,
		joinTimeout:      config.JoinTimeout,
		statsLogInterval: config.StatsLogInterval,
		stats:            config.Stats,
		sink:             config.PoseSink,
		state:            StateUninitialized,
		lastFrameID:      -1,
	}, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() LifecycleState {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// Stats returns the manager's pipeline counters.
func (m *Manager) Stats() *PipelineStats {
	return m.stats
}

// Initialize validates the parameters, initializes the camera subsystem and
// constructs the estimation engine. Valid only from the uninitialized state.
func (m *Manager) Initialize(camParams CameraParameters, initParams InitParams) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.state != StateUninitialized {
		return fmt.Errorf("%w: initialize from %s", ErrInvalidState, m.state)
	}
	if err := validateCameraParameters(camParams); err != nil {
		return err
	}
	if err := validateInitParams(initParams); err != nil {
		return err
	}

	if err := m.camera.Initialize(camParams); err != nil {
		return fmt.Errorf("vislam: camera initialize: %w", err)
	}

	engine, err := m.newEngine(initParams)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineInit, err)
	}

	m.engineMu.Lock()
	m.engine = engine
	m.lastImuTimestampNs = 0
	m.lastFrameID = -1
	m.engineMu.Unlock()

	m.camParams = camParams
	m.initParams = initParams
	m.state = StateInitialized
	log.Printf("Vislam manager initialized (%dx%d @ %.1f fps)", camParams.Width, camParams.Height, camParams.FrameRate)
	return nil
}

// Start subscribes to the IMU source, starts the camera subsystem and spawns
// the acquisition bridge and orchestration worker. Valid from the initialized
// or stopped state.
func (m *Manager) Start() error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if m.closed {
		return ErrClosed
	}
	switch m.state {
	case StateStarted:
		return ErrAlreadyStarted
	case StateUninitialized:
		return ErrNotInitialized
	case StateInitialized, StateStopped:
	default:
		return fmt.Errorf("%w: start from %s", ErrInvalidState, m.state)
	}

	if err := m.camera.Start(); err != nil {
		return fmt.Errorf("vislam: camera start: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.queue = NewFrameQueue(m.queueDepth)
	m.cancelRun = cancel
	m.bridgeDone = make(chan struct{})
	m.workerDone = make(chan struct{})

	m.running.Store(true)
	m.imuSubID = m.imu.Subscribe(m.onImuSample)

	go m.acquireLoop(ctx, m.queue, m.bridgeDone)
	go m.processLoop(m.queue, m.workerDone)
	if m.statsLogInterval > 0 {
		go m.statsLoop(ctx)
	}

	m.state = StateStarted
	log.Printf("Vislam manager started")
	return nil
}

// Stop signals the worker to exit, unsubscribes from IMU samples, stops the
// camera subsystem and joins the worker within the configured bound. Calling
// Stop when already stopped is a no-op.
func (m *Manager) Stop() error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.state == StateStopped {
		return nil
	}
	if m.state != StateStarted {
		return fmt.Errorf("%w: stop from %s", ErrInvalidState, m.state)
	}
	return m.stopLocked()
}

// stopLocked performs the shutdown sequence. Caller holds stateMu with the
// state currently Started.
func (m *Manager) stopLocked() error {
	// Reject new IMU samples first. The flag is atomic rather than guarded
	// by engineMu so Stop can still reach its join timeout when a worker is
	// stuck inside an engine call holding engineMu. In-flight forwards that
	// already passed the check complete normally.
	m.running.Store(false)

	m.imu.Unsubscribe(m.imuSubID)
	m.imuSubID = ""

	m.cancelRun()
	if err := m.camera.Stop(); err != nil {
		log.Printf("Warning: camera stop: %v", err)
	}

	deadline := time.NewTimer(m.joinTimeout)
	defer deadline.Stop()

	// The bridge exits once NextFrame observes the stopped camera.
	select {
	case <-m.bridgeDone:
	case <-deadline.C:
		m.state = StateStopped
		return fmt.Errorf("%w: acquisition bridge", ErrWorkerJoinTimeout)
	}

	// Closing the queue unblocks the worker's Pop; no pushes can follow the
	// bridge exit, so Drain reclaims every remaining buffer.
	m.queue.Close()
	select {
	case <-m.workerDone:
	case <-deadline.C:
		m.state = StateStopped
		return fmt.Errorf("%w: orchestration worker", ErrWorkerJoinTimeout)
	}

	if n := m.queue.Drain(); n > 0 {
		log.Printf("Released %d unprocessed frames at stop", n)
	}

	m.state = StateStopped
	log.Printf("Vislam manager stopped")
	return nil
}

// Reset clears the estimation engine's internal filters without tearing down
// the camera or IMU subscriptions. Fails when invoked concurrently with a
// Start or Stop transition.
func (m *Manager) Reset() error {
	if !m.stateMu.TryLock() {
		return fmt.Errorf("%w: reset during lifecycle transition", ErrInvalidState)
	}
	defer m.stateMu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.engineMu.Lock()
	defer m.engineMu.Unlock()
	if m.engine == nil {
		return ErrNotInitialized
	}
	if err := m.engine.Reset(); err != nil {
		return fmt.Errorf("vislam: engine reset: %w", err)
	}
	return nil
}

// Close performs an implicit Stop and releases all resources. The manager is
// unusable afterwards. Safe to call from any lifecycle state and idempotent.
func (m *Manager) Close() error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if m.closed {
		return nil
	}

	var joinErr error
	if m.state == StateStarted {
		joinErr = m.stopLocked()
	}

	m.engineMu.Lock()
	if m.engine != nil {
		if err := m.engine.Close(); err != nil {
			log.Printf("Warning: engine close: %v", err)
		}
		m.engine = nil
	}
	m.engineMu.Unlock()

	m.closed = true
	return joinErr
}

// onImuSample is the IMU delivery callback. It runs on the source's delivery
// goroutine and must never block on the frame queue. Non-monotonic samples
// are dropped with a warning; monotonic samples are forwarded synchronously
// to the engine under the engine lock.
func (m *Manager) onImuSample(sample ImuSample) {
	if !m.running.Load() {
		return
	}
	m.engineMu.Lock()
	if !m.running.Load() {
		m.engineMu.Unlock()
		return
	}
	if sample.TimestampNs <= m.lastImuTimestampNs {
		last := m.lastImuTimestampNs
		m.engineMu.Unlock()
		m.stats.AddImuRejected()
		log.Printf("Warning: dropping non-monotonic IMU sample (ts=%d, last=%d)", sample.TimestampNs, last)
		return
	}
	err := m.engine.AddMotionSample(sample)
	if err == nil {
		m.lastImuTimestampNs = sample.TimestampNs
	}
	m.engineMu.Unlock()

	if err != nil {
		m.stats.AddSubmitFailure()
		log.Printf("Engine rejected IMU sample at ts=%d: %v", sample.TimestampNs, err)
		return
	}
	m.stats.AddImuForwarded()
}

// acquireLoop is the acquisition bridge: it pulls frames from the camera
// subsystem and enqueues them. Transient misses are retried; the loop exits
// when the camera reports stopped or the run context is cancelled.
func (m *Manager) acquireLoop(ctx context.Context, q *FrameQueue, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := m.camera.NextFrame()
		if err != nil {
			if errors.Is(err, ErrCameraStopped) {
				return
			}
			m.stats.AddAcquireMiss()
			select {
			case <-ctx.Done():
				return
			case <-time.After(acquireMissBackoff):
			}
			continue
		}

		m.stats.AddFrameAcquired()
		if q.Push(frame) {
			m.stats.AddFrameDropped()
		}
	}
}

// processLoop is the orchestration worker: it dequeues frames in arrival
// order and submits each to the engine under the engine lock. A single bad
// frame is discarded and counted; the loop continues. The queue lock is
// always released before the engine lock is taken. The engine may be nil here
// after a timed-out Stop let Close run under a leaked worker, so every engine
// access re-checks it under the lock.
func (m *Manager) processLoop(q *FrameQueue, done chan<- struct{}) {
	defer close(done)

	cloudSink, wantClouds := m.sink.(PointCloudSink)
	var pcBuf []MapPoint
	if wantClouds {
		pcBuf = make([]MapPoint, maxRecordedPoints)
	}

	for {
		frame, ok := q.Pop()
		if !ok {
			return
		}

		m.engineMu.Lock()
		closed := m.engine == nil
		var err error
		if !closed {
			err = m.engine.AddImageFrame(frame)
			if err == nil {
				m.lastFrameID = frame.FrameID
			}
		}
		m.engineMu.Unlock()

		frameID := frame.FrameID
		frame.Release()

		if closed {
			continue
		}
		if err != nil {
			m.stats.AddSubmitFailure()
			log.Printf("Engine rejected frame %d: %v", frameID, err)
			continue
		}
		m.stats.AddFrameSubmitted()

		if m.sink == nil {
			continue
		}

		m.engineMu.Lock()
		var result PoseResult
		perr := ErrNotInitialized
		points := 0
		if m.engine != nil {
			result, perr = m.engine.Pose()
			if wantClouds && m.engine.HasUpdatedPointCloud() {
				points = m.engine.PointCloud(pcBuf)
			}
		}
		m.engineMu.Unlock()

		if perr == nil {
			if serr := m.sink.RecordPose(result); serr != nil {
				log.Printf("Failed to record pose for frame %d: %v", result.FrameID, serr)
			}
		}
		if points > 0 {
			if serr := cloudSink.RecordPointCloud(frameID, pcBuf[:points]); serr != nil {
				log.Printf("Failed to record point cloud for frame %d: %v", frameID, serr)
			}
		}
	}
}

// statsLoop logs pipeline statistics at regular intervals while started.
func (m *Manager) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(m.statsLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.stats.LogStats()
		}
	}
}

// HasUpdatedPointCloud reports whether the engine produced a new point-cloud
// generation since the last read. Non-blocking beyond the engine lock.
func (m *Manager) HasUpdatedPointCloud() bool {
	m.engineMu.Lock()
	defer m.engineMu.Unlock()
	if m.engine == nil {
		return false
	}
	return m.engine.HasUpdatedPointCloud()
}

// GetPose returns the latest pose snapshot, or ErrPoseNotReady when no frame
// has been processed yet.
func (m *Manager) GetPose() (PoseResult, error) {
	m.engineMu.Lock()
	defer m.engineMu.Unlock()
	if m.engine == nil {
		return PoseResult{}, ErrNotInitialized
	}
	return m.engine.Pose()
}

// GetPointCloud copies up to len(dst) map points into the caller-provided
// slice and returns the number copied. No allocation happens on the caller's
// behalf.
func (m *Manager) GetPointCloud(dst []MapPoint) int {
	m.engineMu.Lock()
	defer m.engineMu.Unlock()
	if m.engine == nil {
		return 0
	}
	return m.engine.PointCloud(dst)
}

// LastSubmittedFrameID returns the id of the most recent frame the engine
// accepted, or -1 when none has been submitted.
func (m *Manager) LastSubmittedFrameID() int64 {
	m.engineMu.Lock()
	defer m.engineMu.Unlock()
	return m.lastFrameID
}

func validateCameraParameters(p CameraParameters) error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("%w: camera dimensions %dx%d", ErrConfiguration, p.Width, p.Height)
	}
	if p.FrameRate <= 0 {
		return fmt.Errorf("%w: camera frame rate %.2f", ErrConfiguration, p.FrameRate)
	}
	return nil
}

func validateInitParams(p InitParams) error {
	for name, v := range map[string]float64{
		"std_accel_meas_noise": p.StdAccelMeasNoise,
		"std_gyro_meas_noise":  p.StdGyroMeasNoise,
		"std_cam_noise":        p.StdCamNoise,
		"min_std_pixel_noise":  p.MinStdPixelNoise,
		"std0_delta":           p.Std0Delta,
	} {
		if v < 0 {
			return fmt.Errorf("%w: negative noise value %s=%.4f", ErrConfiguration, name, v)
		}
	}
	if p.AccelMeasRange < 0 || p.GyroMeasRange < 0 {
		return fmt.Errorf("%w: negative measurement range", ErrConfiguration)
	}
	return nil
}
