// Package vislam synchronizes asynchronous camera and IMU streams into a
// visual-inertial pose-estimation engine.
//
// The manager owns three concurrent execution contexts: the IMU delivery
// callback (driver-owned goroutine), the acquisition bridge pulling frames
// from the camera subsystem, and a single orchestration worker draining the
// bounded frame queue into the engine. All engine access is serialized
// through one lock; the frame queue has its own lock that is never held
// across an engine call.
//
// The estimation engine itself is a black box behind the Engine interface:
// this package guarantees ordering (FIFO frames, strictly monotonic IMU
// timestamps) and lifecycle safety, not estimation math.
package vislam
