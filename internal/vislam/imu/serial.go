package imu

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"

	"go.bug.st/serial"

	"github.com/ChristophTobler/ros-examples/internal/vislam"
)

// DefaultBaudRate is the rate the reference IMU breakout streams at.
const DefaultBaudRate = 115200

// SerialSource reads line-oriented IMU samples from a serial port and
// delivers them to subscribers from a dedicated monitor goroutine. It
// implements vislam.ImuSource.
type SerialSource struct {
	port io.ReadCloser
	subs subscribers
}

// OpenSerialSource opens the serial device at path and wraps it in a source.
// A baud of 0 uses DefaultBaudRate.
func OpenSerialSource(path string, baud int) (*SerialSource, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("imu: open serial port %s: %w", path, err)
	}
	return NewSerialSource(port), nil
}

// NewSerialSource wraps an already-open reader (a serial port in production,
// a pipe in tests).
func NewSerialSource(port io.ReadCloser) *SerialSource {
	return &SerialSource{port: port}
}

// Subscribe registers a sample callback and returns its id.
func (s *SerialSource) Subscribe(fn func(vislam.ImuSample)) string {
	return s.subs.add(fn)
}

// Unsubscribe removes a callback. A delivery already in flight may still
// arrive after return.
func (s *SerialSource) Unsubscribe(id string) {
	s.subs.remove(id)
}

// Monitor reads sample lines from the port and dispatches them until the
// context is cancelled or the port errors. The blocking scanner runs in its
// own goroutine so cancellation stays responsive.
func (s *SerialSource) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	badLines := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				if err := scan.Err(); err != nil {
					return err
				}
				return nil
			}
			sample, err := ParseSampleLine(line)
			if err != nil {
				badLines++
				if badLines%100 == 1 {
					log.Printf("Skipping malformed IMU line (%d so far): %v", badLines, err)
				}
				continue
			}
			s.subs.dispatch(sample)
		}
	}
}

// Close closes the underlying port.
func (s *SerialSource) Close() error {
	return s.port.Close()
}
