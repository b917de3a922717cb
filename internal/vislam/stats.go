package vislam

import (
	"log"
	"sync"
	"time"
)

// PipelineStats tracks pipeline event counters with thread-safe operations.
type PipelineStats struct {
	mu              sync.Mutex
	framesAcquired  int64
	framesDropped   int64
	framesSubmitted int64
	submitFailures  int64
	acquireMisses   int64
	imuForwarded    int64
	imuRejected     int64
	lastReset       time.Time
}

// StatsSnapshot is a point-in-time copy of the pipeline counters.
type StatsSnapshot struct {
	FramesAcquired  int64 `json:"frames_acquired"`
	FramesDropped   int64 `json:"frames_dropped"`
	FramesSubmitted int64 `json:"frames_submitted"`
	SubmitFailures  int64 `json:"submit_failures"`
	AcquireMisses   int64 `json:"acquire_misses"`
	ImuForwarded    int64 `json:"imu_forwarded"`
	ImuRejected     int64 `json:"imu_rejected"`
}

// NewPipelineStats creates a new PipelineStats instance.
func NewPipelineStats() *PipelineStats {
	return &PipelineStats{lastReset: time.Now()}
}

// AddFrameAcquired increments the acquired-frame count.
func (ps *PipelineStats) AddFrameAcquired() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.framesAcquired++
}

// AddFrameDropped increments the dropped-frame count (queue overflow).
func (ps *PipelineStats) AddFrameDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.framesDropped++
}

// AddFrameSubmitted increments the submitted-frame count.
func (ps *PipelineStats) AddFrameSubmitted() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.framesSubmitted++
}

// AddSubmitFailure increments the engine submit-failure count.
func (ps *PipelineStats) AddSubmitFailure() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.submitFailures++
}

// AddAcquireMiss increments the transient camera-miss count.
func (ps *PipelineStats) AddAcquireMiss() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.acquireMisses++
}

// AddImuForwarded increments the forwarded IMU sample count.
func (ps *PipelineStats) AddImuForwarded() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.imuForwarded++
}

// AddImuRejected increments the non-monotonic IMU sample count.
func (ps *PipelineStats) AddImuRejected() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.imuRejected++
}

// Snapshot returns a copy of the current counters without resetting them.
func (ps *PipelineStats) Snapshot() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return StatsSnapshot{
		FramesAcquired:  ps.framesAcquired,
		FramesDropped:   ps.framesDropped,
		FramesSubmitted: ps.framesSubmitted,
		SubmitFailures:  ps.submitFailures,
		AcquireMisses:   ps.acquireMisses,
		ImuForwarded:    ps.imuForwarded,
		ImuRejected:     ps.imuRejected,
	}
}

// GetAndReset returns current stats and resets counters.
func (ps *PipelineStats) GetAndReset() (snap StatsSnapshot, duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	duration = now.Sub(ps.lastReset)
	snap = StatsSnapshot{
		FramesAcquired:  ps.framesAcquired,
		FramesDropped:   ps.framesDropped,
		FramesSubmitted: ps.framesSubmitted,
		SubmitFailures:  ps.submitFailures,
		AcquireMisses:   ps.acquireMisses,
		ImuForwarded:    ps.imuForwarded,
		ImuRejected:     ps.imuRejected,
	}

	ps.framesAcquired = 0
	ps.framesDropped = 0
	ps.framesSubmitted = 0
	ps.submitFailures = 0
	ps.acquireMisses = 0
	ps.imuForwarded = 0
	ps.imuRejected = 0
	ps.lastReset = now

	return snap, duration
}

// LogStats logs formatted interval statistics and resets the counters.
func (ps *PipelineStats) LogStats() {
	snap, duration := ps.GetAndReset()
	if snap.FramesAcquired == 0 && snap.ImuForwarded == 0 && snap.ImuRejected == 0 {
		return
	}
	secs := duration.Seconds()
	if secs <= 0 {
		secs = 1
	}
	log.Printf("Vislam stats (/sec): %.1f frames in, %.1f submitted, %.1f imu; dropped=%d submit_failures=%d imu_rejected=%d misses=%d",
		float64(snap.FramesAcquired)/secs,
		float64(snap.FramesSubmitted)/secs,
		float64(snap.ImuForwarded)/secs,
		snap.FramesDropped, snap.SubmitFailures, snap.ImuRejected, snap.AcquireMisses)
}
