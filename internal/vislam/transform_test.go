package vislam

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestRotationVectorToQuatIdentity(t *testing.T) {
	q := RotationVectorToQuat(r3.Vec{})
	assert.Empty(t, cmp.Diff(quat.Number{Real: 1}, q, approx))
}

func TestRotationVectorToQuatHalfTurn(t *testing.T) {
	// Pi around Z maps X onto -X.
	q := RotationVectorToQuat(r3.Vec{Z: math.Pi})
	got := QuatRotate(q, r3.Vec{X: 1})
	assert.Empty(t, cmp.Diff(r3.Vec{X: -1}, got, approx))
}

func TestQuatRotateQuarterTurn(t *testing.T) {
	// Pi/2 around Z maps X onto Y.
	q := RotationVectorToQuat(r3.Vec{Z: math.Pi / 2})
	got := QuatRotate(q, r3.Vec{X: 1})
	assert.Empty(t, cmp.Diff(r3.Vec{Y: 1}, got, approx))
}

func TestTransformPoint(t *testing.T) {
	pose := Pose{
		Position:    r3.Vec{X: 10, Y: -2, Z: 3},
		Orientation: RotationVectorToQuat(r3.Vec{Z: math.Pi / 2}),
	}
	got := pose.TransformPoint(r3.Vec{X: 1})
	assert.Empty(t, cmp.Diff(r3.Vec{X: 10, Y: -1, Z: 3}, got, approx))
}

func TestIntegrateRotationAccumulates(t *testing.T) {
	// Integrating pi/2 rad/s around Z for 1s in small steps approximates a
	// quarter turn.
	q := quat.Number{Real: 1}
	omega := r3.Vec{Z: math.Pi / 2}
	const steps = 1000
	for i := 0; i < steps; i++ {
		q = IntegrateRotation(q, omega, 1.0/steps)
	}
	got := QuatRotate(q, r3.Vec{X: 1})
	assert.InDelta(t, 0, got.X, 1e-6)
	assert.InDelta(t, 1, got.Y, 1e-6)
	assert.InDelta(t, 0, got.Z, 1e-6)
}

func TestIntegrateRotationStaysNormalized(t *testing.T) {
	q := quat.Number{Real: 1}
	for i := 0; i < 10000; i++ {
		q = IntegrateRotation(q, r3.Vec{X: 0.3, Y: -0.2, Z: 0.7}, 0.005)
	}
	n := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	assert.InDelta(t, 1, n, 1e-9)
}

func TestIntegrateRotationZeroRate(t *testing.T) {
	q := RotationVectorToQuat(r3.Vec{X: 0.4})
	got := IntegrateRotation(q, r3.Vec{}, 0.01)
	assert.Empty(t, cmp.Diff(q, got, approx))
}
