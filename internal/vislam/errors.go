package vislam

import "errors"

// Lifecycle and configuration errors, surfaced synchronously from the call
// that triggered them.
var (
	// ErrConfiguration indicates invalid parameters passed to Initialize.
	ErrConfiguration = errors.New("vislam: invalid configuration")
	// ErrNotInitialized indicates an operation that requires Initialize first.
	ErrNotInitialized = errors.New("vislam: not initialized")
	// ErrAlreadyStarted indicates Start called while already running.
	ErrAlreadyStarted = errors.New("vislam: already started")
	// ErrInvalidState indicates a lifecycle transition from a state that does
	// not permit it.
	ErrInvalidState = errors.New("vislam: invalid lifecycle state")
	// ErrClosed indicates use of a manager after Close.
	ErrClosed = errors.New("vislam: manager closed")
)

// Engine errors.
var (
	// ErrEngineInit indicates the underlying engine failed to construct.
	ErrEngineInit = errors.New("vislam: engine initialization failed")
	// ErrPoseNotReady indicates no frame has been processed yet.
	ErrPoseNotReady = errors.New("vislam: pose not ready")
)

// Pipeline errors.
var (
	// ErrWorkerJoinTimeout is fatal: the orchestration worker failed to exit
	// within the configured bound after Stop.
	ErrWorkerJoinTimeout = errors.New("vislam: worker did not join within timeout")
	// ErrNoFrame is a transient camera miss; the acquisition bridge retries.
	ErrNoFrame = errors.New("vislam: no frame available")
	// ErrCameraStopped is returned by NextFrame once the camera subsystem has
	// been stopped; it terminates the acquisition bridge loop.
	ErrCameraStopped = errors.New("vislam: camera stopped")
)
