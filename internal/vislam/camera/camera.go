// Package camera provides camera subsystem implementations for the vislam
// manager. The real hardware subsystem lives behind the vislam.Camera
// interface; this package supplies a synthetic generator for dev mode and
// tests.
package camera

import (
	"fmt"
	"sync"
	"time"

	"github.com/ChristophTobler/ros-examples/internal/vislam"
)

// Synthetic produces gradient test frames at the configured frame rate. It
// implements vislam.Camera. Frames the bridge does not pull in time are
// discarded, mirroring a real camera's free-running capture.
type Synthetic struct {
	mu          sync.Mutex
	params      vislam.CameraParameters
	initialized bool
	running     bool
	stopCh      chan struct{}
	frames      chan *vislam.CameraFrame
	nextID      int64

	pool sync.Pool
}

// NewSynthetic creates an uninitialized synthetic camera.
func NewSynthetic() *Synthetic {
	return &Synthetic{}
}

// Initialize validates and stores the camera parameters.
func (c *Synthetic) Initialize(params vislam.CameraParameters) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if params.Width <= 0 || params.Height <= 0 || params.FrameRate <= 0 {
		return fmt.Errorf("%w: synthetic camera %dx%d @ %.1f", vislam.ErrConfiguration, params.Width, params.Height, params.FrameRate)
	}
	c.params = params
	size := params.Width * params.Height
	c.pool = sync.Pool{New: func() any { return make([]byte, size) }}
	c.initialized = true
	return nil
}

// Start begins frame generation.
func (c *Synthetic) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return vislam.ErrNotInitialized
	}
	if c.running {
		return vislam.ErrAlreadyStarted
	}
	c.stopCh = make(chan struct{})
	c.frames = make(chan *vislam.CameraFrame, 1)
	c.running = true
	go c.generate(c.stopCh, c.frames)
	return nil
}

// Stop halts generation and unblocks any pending NextFrame call.
func (c *Synthetic) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	close(c.stopCh)
	c.running = false
	return nil
}

// NextFrame blocks until the next generated frame or Stop.
func (c *Synthetic) NextFrame() (*vislam.CameraFrame, error) {
	c.mu.Lock()
	frames, stopCh, running := c.frames, c.stopCh, c.running
	c.mu.Unlock()
	if !running {
		return nil, vislam.ErrCameraStopped
	}
	select {
	case frame := <-frames:
		return frame, nil
	case <-stopCh:
		return nil, vislam.ErrCameraStopped
	}
}

// generate ticks at the frame interval, filling pooled buffers with a cheap
// gradient pattern. Undelivered frames are returned to the pool.
func (c *Synthetic) generate(stopCh chan struct{}, frames chan *vislam.CameraFrame) {
	interval := time.Duration(float64(time.Second) / c.params.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			// Reclaim any frame still sitting undelivered in the channel.
			select {
			case frame := <-frames:
				frame.Release()
			default:
			}
			return
		case <-ticker.C:
			buf := c.pool.Get().([]byte)
			c.mu.Lock()
			id := c.nextID
			c.nextID++
			c.mu.Unlock()
			for i := range buf {
				buf[i] = byte((i + int(id)) & 0xff)
			}
			frame := vislam.NewCameraFrame(id, buf, time.Now().UnixNano(), func() {
				c.pool.Put(buf)
			})
			select {
			case frames <- frame:
			default:
				// Bridge fell behind the capture rate; discard.
				frame.Release()
			}
		}
	}
}
