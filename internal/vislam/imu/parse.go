package imu

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ChristophTobler/ros-examples/internal/vislam"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrBadSampleLine indicates a serial line that could not be parsed as an
// IMU sample. Bad lines are skipped, not fatal.
var ErrBadSampleLine = fmt.Errorf("imu: malformed sample line")

// ParseSampleLine parses one serial line of the form
//
//	timestamp_ns,ax,ay,az,gx,gy,gz
//
// with acceleration in m/s^2 and angular velocity in rad/s. Blank lines and
// lines starting with '#' are reported as ErrBadSampleLine and skipped by the
// caller.
func ParseSampleLine(line string) (vislam.ImuSample, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return vislam.ImuSample{}, ErrBadSampleLine
	}

	segments := strings.Split(line, ",")
	if len(segments) != 7 {
		return vislam.ImuSample{}, fmt.Errorf("%w: expected 7 segments, got %d", ErrBadSampleLine, len(segments))
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(segments[0]), 10, 64)
	if err != nil {
		return vislam.ImuSample{}, fmt.Errorf("%w: timestamp %q", ErrBadSampleLine, segments[0])
	}

	var vals [6]float64
	for i := 0; i < 6; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(segments[i+1]), 64)
		if err != nil {
			return vislam.ImuSample{}, fmt.Errorf("%w: field %d %q", ErrBadSampleLine, i+1, segments[i+1])
		}
		vals[i] = v
	}

	return vislam.ImuSample{
		TimestampNs:        ts,
		LinearAcceleration: r3.Vec{X: vals[0], Y: vals[1], Z: vals[2]},
		AngularVelocity:    r3.Vec{X: vals[3], Y: vals[4], Z: vals[5]},
	}, nil
}
