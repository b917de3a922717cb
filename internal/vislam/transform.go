package vislam

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// RotationVectorToQuat converts a rotation vector (axis scaled by angle in
// radians, the representation used by the engine's ombc extrinsic) into a
// unit quaternion.
func RotationVectorToQuat(v r3.Vec) quat.Number {
	angle := r3.Norm(v)
	if angle < 1e-12 {
		return quat.Number{Real: 1}
	}
	axis := r3.Scale(1/angle, v)
	s := math.Sin(angle / 2)
	return quat.Number{
		Real: math.Cos(angle / 2),
		Imag: axis.X * s,
		Jmag: axis.Y * s,
		Kmag: axis.Z * s,
	}
}

// QuatRotate rotates v by the unit quaternion q (q v q*).
func QuatRotate(q quat.Number, v r3.Vec) r3.Vec {
	qv := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, qv), quat.Conj(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// TransformPoint maps a body-frame point into the world frame under the pose.
func (p Pose) TransformPoint(pt r3.Vec) r3.Vec {
	return r3.Add(QuatRotate(p.Orientation, pt), p.Position)
}

// IntegrateRotation advances orientation q by angular velocity omega (rad/s,
// body frame) over dt seconds and renormalizes.
func IntegrateRotation(q quat.Number, omega r3.Vec, dt float64) quat.Number {
	dq := RotationVectorToQuat(r3.Scale(dt, omega))
	out := quat.Mul(q, dq)
	n := math.Sqrt(out.Real*out.Real + out.Imag*out.Imag + out.Jmag*out.Jmag + out.Kmag*out.Kmag)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Number{Real: out.Real / n, Imag: out.Imag / n, Jmag: out.Jmag / n, Kmag: out.Kmag / n}
}
