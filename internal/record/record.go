package record

import "math"

type Vec3 [3]float64

func (v Vec3) Dot(o Vec3) float64 {
	return v[0]*o[0] + v[1]*o[1] + v[2]*o[2]
}

func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

func (v Vec3) IsZero() bool {
	return v[0] == 0 && v[1] == 0 && v[2] == 0
}

// Record is the end-of-trajectory state of one tracked particle.
type Record struct {
	Kind     string
	Job      int64
	Particle int64

	TStart    float64
	PosStart  Vec3
	SpinStart Vec3
	EStart    float64 // kinetic
	HStart    float64 // total

	TEnd    float64
	PosEnd  Vec3
	SpinEnd Vec3
	BEnd    Vec3
	EEnd    float64
	HEnd    float64

	Stop StopID
}
