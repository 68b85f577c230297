// Package estimation fuses platform sensor readings into a pose estimate.
//
// The filter is a linear constant-velocity Kalman filter over
// [x y z vx vy vz] built on gonum matrices. Position is only ever observed
// through altitude and, when a platform provides one, a GPS fix; in
// GPS-denied flight x and y are pure odometric dead reckoning relative to
// the start position.
package estimation

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

const dim = 6

// Kalman is a constant-velocity Kalman filter. Not safe for concurrent use;
// the StateEstimation thread is its only user.
type Kalman struct {
	x *mat.VecDense
	p *mat.Dense
	q float64
}

// NewKalman creates a filter at rest at the origin with initial variance p0
// and process noise spectral density q.
func NewKalman(p0, q float64) *Kalman {
	p := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		p.Set(i, i, p0)
	}
	return &Kalman{x: mat.NewVecDense(dim, nil), p: p, q: q}
}

// Predict propagates the state dt seconds forward.
func (k *Kalman) Predict(dt float64) {
	if dt <= 0 {
		return
	}
	f := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		f.Set(i, i, 1)
	}
	for i := 0; i < 3; i++ {
		f.Set(i, i+3, dt)
	}

	var x mat.VecDense
	x.MulVec(f, k.x)
	k.x = &x

	var fp, p mat.Dense
	fp.Mul(f, k.p)
	p.Mul(&fp, f.T())
	for i := 0; i < 3; i++ {
		p.Set(i, i, p.At(i, i)+k.q*dt*dt*dt/3)
		p.Set(i+3, i+3, p.At(i+3, i+3)+k.q*dt)
	}
	k.p = &p
}

// UpdateVelocity fuses a world-frame velocity observation with per-axis
// variance r.
func (k *Kalman) UpdateVelocity(v [3]float64, r float64) error {
	h := mat.NewDense(3, dim, nil)
	for i := 0; i < 3; i++ {
		h.Set(i, i+3, 1)
	}
	return k.update(h, mat.NewVecDense(3, v[:]), r)
}

// UpdatePosition fuses an absolute position observation.
func (k *Kalman) UpdatePosition(p [3]float64, r float64) error {
	h := mat.NewDense(3, dim, nil)
	for i := 0; i < 3; i++ {
		h.Set(i, i, 1)
	}
	return k.update(h, mat.NewVecDense(3, p[:]), r)
}

// UpdateAltitude fuses a height observation.
func (k *Kalman) UpdateAltitude(z float64, r float64) error {
	h := mat.NewDense(1, dim, nil)
	h.Set(0, 2, 1)
	return k.update(h, mat.NewVecDense(1, []float64{z}), r)
}

func (k *Kalman) update(h *mat.Dense, z *mat.VecDense, r float64) error {
	rows, _ := h.Dims()

	var hx, y mat.VecDense
	hx.MulVec(h, k.x)
	y.SubVec(z, &hx)

	var pht, s mat.Dense
	pht.Mul(k.p, h.T())
	s.Mul(h, &pht)
	for i := 0; i < rows; i++ {
		s.Set(i, i, s.At(i, i)+r)
	}

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return fmt.Errorf("kalman: singular innovation covariance: %w", err)
	}

	var gain mat.Dense
	gain.Mul(&pht, &sInv)

	var dx mat.VecDense
	dx.MulVec(&gain, &y)
	k.x.AddVec(k.x, &dx)

	var kh mat.Dense
	kh.Mul(&gain, h)
	ikh := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		ikh.Set(i, i, 1)
	}
	ikh.Sub(ikh, &kh)

	var p mat.Dense
	p.Mul(ikh, k.p)
	k.p = &p
	return nil
}

// Position returns the estimated position.
func (k *Kalman) Position() [3]float64 {
	return [3]float64{k.x.AtVec(0), k.x.AtVec(1), k.x.AtVec(2)}
}

// Velocity returns the estimated velocity.
func (k *Kalman) Velocity() [3]float64 {
	return [3]float64{k.x.AtVec(3), k.x.AtVec(4), k.x.AtVec(5)}
}

// Variance returns the diagonal of the covariance.
func (k *Kalman) Variance() [dim]float64 {
	var out [dim]float64
	for i := range out {
		out[i] = k.p.At(i, i)
	}
	return out
}
