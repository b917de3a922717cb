package vislam

// Engine is the visual-inertial estimation engine the manager feeds. It is
// consumed as a black box: it accepts camera frames and IMU samples and
// produces pose and map-point outputs. Engines are NOT assumed to be safe for
// concurrent use; the manager serializes every call through a single lock.
type Engine interface {
	// AddMotionSample feeds one IMU sample. Timestamps are strictly
	// increasing across calls; the manager enforces this before calling.
	AddMotionSample(sample ImuSample) error

	// AddImageFrame submits one camera frame with its id and timestamp. The
	// engine must not retain the frame's buffer past the call.
	AddImageFrame(frame *CameraFrame) error

	// HasUpdatedPointCloud reports whether a new point-cloud generation is
	// available since the last PointCloud call.
	HasUpdatedPointCloud() bool

	// Pose returns the latest pose estimate, or ErrPoseNotReady when no
	// frame has been processed yet.
	Pose() (PoseResult, error)

	// PointCloud copies up to len(dst) map points into dst and returns the
	// number copied. Reading consumes the current freshness generation.
	PointCloud(dst []MapPoint) int

	// Reset clears the engine's internal filters.
	Reset() error

	// Close releases engine resources.
	Close() error
}

// EngineFactory constructs an Engine from an immutable configuration
// snapshot. The manager invokes it once, during Initialize.
type EngineFactory func(params InitParams) (Engine, error)

// Camera is the camera acquisition subsystem contract. NextFrame blocks until
// a frame is available or the subsystem is stopped; transient misses surface
// as ErrNoFrame and are retried by the acquisition bridge.
type Camera interface {
	Initialize(params CameraParameters) error
	Start() error
	Stop() error
	// NextFrame returns the next captured frame. Returns ErrNoFrame on a
	// transient miss and ErrCameraStopped once the subsystem has stopped.
	NextFrame() (*CameraFrame, error)
}

// ImuSource delivers inertial samples asynchronously via a registered
// callback; there is no polling. Callbacks run on the source's delivery
// goroutine, which is never the orchestration worker.
type ImuSource interface {
	// Subscribe registers a sample callback and returns an id for
	// Unsubscribe. The callback may be invoked concurrently with any manager
	// operation.
	Subscribe(fn func(ImuSample)) string
	// Unsubscribe removes a previously registered callback. Unsubscribe must
	// not block on in-flight deliveries; a delivery already in flight may
	// still arrive after return, and the manager gates late deliveries with
	// its running flag.
	Unsubscribe(id string)
}

// PoseSink receives the engine's pose after each successfully submitted
// frame. Sinks run on the orchestration worker goroutine, outside the engine
// lock; a slow sink delays frame throughput but never IMU forwarding.
type PoseSink interface {
	RecordPose(result PoseResult) error
}

// PointCloudSink is an optional extension of PoseSink. When the configured
// sink also implements it, the worker records a point-cloud snapshot each time
// the engine reports a new generation. Recording consumes the generation's
// freshness, like any other PointCloud read.
type PointCloudSink interface {
	RecordPointCloud(frameID int64, points []MapPoint) error
}
