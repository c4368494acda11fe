package core

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Orientation is an aircraft attitude. Heading is degrees clockwise from
// true north in [0, 360); Pitch and Roll are degrees, nose-up and
// right-wing-down positive. Quaternion encodes the same rotation from the
// local north/east/down frame to the body frame (Real is the scalar part).
type Orientation struct {
	Heading    float64     `json:"heading"`
	Pitch      float64     `json:"pitch"`
	Roll       float64     `json:"roll"`
	Quaternion quat.Number `json:"-"`
}

// AttitudeQuaternion builds the unit quaternion for a yaw-pitch-roll
// (Z-Y-X) rotation given in degrees.
func AttitudeQuaternion(yaw, pitch, roll float64) quat.Number {
	cy, sy := math.Cos(yaw*degToRad/2), math.Sin(yaw*degToRad/2)
	cp, sp := math.Cos(pitch*degToRad/2), math.Sin(pitch*degToRad/2)
	cr, sr := math.Cos(roll*degToRad/2), math.Sin(roll*degToRad/2)

	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}

// OrientationFromQuaternion decomposes q back into heading, pitch and roll.
func OrientationFromQuaternion(q quat.Number) Orientation {
	q = normalizeQuat(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	roll := math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	sinPitch := 2 * (w*y - z*x)
	sinPitch = math.Max(-1, math.Min(1, sinPitch))
	pitch := math.Asin(sinPitch)
	yaw := math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))

	return Orientation{
		Heading:    normalizeHeading(yaw * radToDeg),
		Pitch:      pitch * radToDeg,
		Roll:       roll * radToDeg,
		Quaternion: q,
	}
}

// OrientationFromAngles is the Orientation for explicit angles in degrees.
func OrientationFromAngles(heading, pitch, roll float64) Orientation {
	return Orientation{
		Heading:    normalizeHeading(heading),
		Pitch:      pitch,
		Roll:       roll,
		Quaternion: AttitudeQuaternion(heading, pitch, roll),
	}
}

// Slerp interpolates along the shortest great arc between unit quaternions
// a and b; u=0 yields a and u=1 yields b.
func Slerp(a, b quat.Number, u float64) quat.Number {
	dot := quatDot(a, b)
	if dot < 0 {
		b = quat.Scale(-1, b)
		dot = -dot
	}
	// Nearly parallel: the sine ratio is numerically unstable, lerp instead.
	if dot > 0.9995 {
		return normalizeQuat(quat.Add(a, quat.Scale(u, quat.Sub(b, a))))
	}
	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	wa := math.Sin((1-u)*theta) / sinTheta
	wb := math.Sin(u*theta) / sinTheta
	return quat.Add(quat.Scale(wa, a), quat.Scale(wb, b))
}

func quatDot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

func normalizeQuat(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}
