package vislam

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// CameraFrame is one captured camera image moving through the pipeline.
// A frame is owned by exactly one stage at a time: the acquisition bridge
// until it is enqueued, the frame queue until it is dequeued, and the
// orchestration worker until Release is called after engine submission.
type CameraFrame struct {
	FrameID     int64
	Buffer      []byte
	TimestampNs int64

	release func()
}

// NewCameraFrame wraps an acquired image buffer. The optional release hook is
// invoked exactly once when the frame leaves the pipeline, letting the
// producer reclaim the buffer (e.g. return it to a pool).
func NewCameraFrame(frameID int64, buffer []byte, timestampNs int64, release func()) *CameraFrame {
	return &CameraFrame{
		FrameID:     frameID,
		Buffer:      buffer,
		TimestampNs: timestampNs,
		release:     release,
	}
}

// Release returns the frame's buffer to its producer. Safe to call more than
// once; only the first call runs the release hook.
func (f *CameraFrame) Release() {
	if f.release != nil {
		f.release()
		f.release = nil
	}
	f.Buffer = nil
}

// ImuSample is a single inertial measurement. Samples are ephemeral: they are
// forwarded to the engine synchronously from the delivery callback and never
// buffered.
type ImuSample struct {
	TimestampNs        int64
	LinearAcceleration r3.Vec // m/s^2, body frame
	AngularVelocity    r3.Vec // rad/s, body frame
}

// CameraParameters configures the camera subsystem at Initialize time.
type CameraParameters struct {
	Width          int
	Height         int
	FrameRate      float64 // frames per second
	FocalLength    [2]float64
	PrincipalPoint [2]float64
	Distortion     []float64
}

// InitParams is the immutable engine configuration snapshot captured at
// Initialize. Field names follow the underlying estimation SDK: tbc/ombc are
// the camera-to-body extrinsic translation and rotation vector, the Std0*
// fields their initial uncertainties.
type InitParams struct {
	Tbc   r3.Vec  // translation body -> camera, metres
	Ombc  r3.Vec  // rotation body -> camera, rotation vector (radians)
	Delta float64 // camera-IMU time offset, seconds

	Std0Tbc   r3.Vec
	Std0Ombc  r3.Vec
	Std0Delta float64

	AccelMeasRange    float64
	GyroMeasRange     float64
	StdAccelMeasNoise float64
	StdGyroMeasNoise  float64
	StdCamNoise       float64
	MinStdPixelNoise  float64

	FailHighPixelNoisePoints bool
	LogDepthBootstrap        float64
	UseLogCameraHeight       bool
	LogCameraHeightBootstrap float64
	NoInitWhenMoving         bool
	LimitedIMUbWtrigger      float64
}

// Pose is a 6-DoF pose estimate with uncertainty.
type Pose struct {
	Position    r3.Vec
	Orientation quat.Number // unit quaternion, body -> world
	// Covariance is the 6x6 error covariance over (position, orientation)
	// in that order. May be nil when the engine does not report one.
	Covariance *mat.SymDense
}

// PoseResult pairs a pose with the camera frame it corresponds to.
type PoseResult struct {
	Pose        Pose
	FrameID     int64
	TimestampNs int64
}

// MapPoint is one triangulated 3-D landmark from the engine's sparse map.
type MapPoint struct {
	ID       uint32
	Position r3.Vec
	// Quality in [0,1]; depth-error derived, engine specific.
	Quality float64
}

// LifecycleState enumerates the manager's lifecycle.
type LifecycleState int

const (
	StateUninitialized LifecycleState = iota
	StateInitialized
	StateStarted
	StateStopped
)

func (s LifecycleState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
