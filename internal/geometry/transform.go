package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrSingular is returned when a transform cannot be solved or inverted
	// because the input is degenerate or numerically singular.
	ErrSingular = errors.New("singular transform")

	// ErrPointAtInfinity is returned when a point maps onto the line at
	// infinity (homogeneous w of zero).
	ErrPointAtInfinity = errors.New("point maps to infinity")
)

const (
	// wEpsilon is the smallest homogeneous w accepted by Apply.
	wEpsilon = 1e-12

	// maxCondition is the largest condition number treated as invertible.
	maxCondition = 1e12
)

// Transform is a planar projective transform stored as a row-major 3x3
// matrix:
//
//	| a b c |
//	| d e f |
//	| g h i |
//
// A point (x, y) maps to ((ax+by+c)/w, (dx+ey+f)/w) with w = gx+hy+i.
// The zero value is not a valid transform; use Identity or Solve.
type Transform struct {
	m [9]float64
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{m: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// NewTransform builds a transform from a row-major 3x3 matrix. The matrix
// is scaled so its last entry is 1 when that entry is non-zero.
func NewTransform(m [9]float64) Transform {
	return Transform{m: m}.normalized()
}

// Translation returns the transform that adds (dx, dy).
func Translation(dx, dy float64) Transform {
	return Transform{m: [9]float64{1, 0, dx, 0, 1, dy, 0, 0, 1}}
}

// Matrix returns the row-major 3x3 coefficients.
func (t Transform) Matrix() [9]float64 {
	return t.m
}

// Apply maps p through the transform, dividing by the homogeneous w.
func (t Transform) Apply(p Point2D) (Point2D, error) {
	m := t.m
	w := m[6]*p.X + m[7]*p.Y + m[8]
	if math.Abs(w) < wEpsilon || math.IsNaN(w) {
		return Point2D{}, fmt.Errorf("apply (%g, %g): %w", p.X, p.Y, ErrPointAtInfinity)
	}
	return Point2D{
		X: (m[0]*p.X + m[1]*p.Y + m[2]) / w,
		Y: (m[3]*p.X + m[4]*p.Y + m[5]) / w,
	}, nil
}

// Invert returns the inverse transform. Ill-conditioned matrices are
// reported as ErrSingular instead of producing a meaningless inverse.
func (t Transform) Invert() (Transform, error) {
	d := t.dense()
	if c := mat.Cond(d, 1); math.IsInf(c, 1) || math.IsNaN(c) || c > maxCondition {
		return Transform{}, fmt.Errorf("invert: condition number %g: %w", c, ErrSingular)
	}

	var inv mat.Dense
	if err := inv.Inverse(d); err != nil {
		return Transform{}, fmt.Errorf("invert: %v: %w", err, ErrSingular)
	}
	return fromDense(&inv).normalized(), nil
}

// Then returns the transform that applies t first and next second.
func (t Transform) Then(next Transform) Transform {
	var out mat.Dense
	out.Mul(next.dense(), t.dense())
	return fromDense(&out).normalized()
}

// ApproxEqual reports whether t and o describe the same projective map
// within tol. Both matrices are compared after scaling to unit norm, since
// homographies are only defined up to scale.
func (t Transform) ApproxEqual(o Transform, tol float64) bool {
	a, b := t.unit(), o.unit()
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

// Matrix4 returns the 4x4 row-major homogeneous embedding of the transform
// acting on the z=0 plane. This is the 16-float layout used when a
// calibration is persisted.
func (t Transform) Matrix4() [16]float64 {
	m := t.m
	return [16]float64{
		m[0], m[1], 0, m[2],
		m[3], m[4], 0, m[5],
		0, 0, 1, 0,
		m[6], m[7], 0, m[8],
	}
}

// FromMatrix4 restores a transform from its Matrix4 layout.
func FromMatrix4(a [16]float64) Transform {
	return NewTransform([9]float64{
		a[0], a[1], a[3],
		a[4], a[5], a[7],
		a[12], a[13], a[15],
	})
}

// String implements fmt.Stringer.
func (t Transform) String() string {
	m := t.m
	return fmt.Sprintf("[%g %g %g; %g %g %g; %g %g %g]",
		m[0], m[1], m[2], m[3], m[4], m[5], m[6], m[7], m[8])
}

func (t Transform) dense() *mat.Dense {
	data := t.m
	return mat.NewDense(3, 3, data[:])
}

func fromDense(d mat.Matrix) Transform {
	var m [9]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m[r*3+c] = d.At(r, c)
		}
	}
	return Transform{m: m}
}

func (t Transform) normalized() Transform {
	if math.Abs(t.m[8]) < wEpsilon {
		return t
	}
	k := t.m[8]
	for i := range t.m {
		t.m[i] /= k
	}
	return t
}

// unit scales the matrix to unit Frobenius norm with its largest-magnitude
// entry positive.
func (t Transform) unit() [9]float64 {
	m := t.m
	var norm, largest float64
	for _, v := range m {
		norm += v * v
		if math.Abs(v) > math.Abs(largest) {
			largest = v
		}
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return m
	}
	if largest < 0 {
		norm = -norm
	}
	for i := range m {
		m[i] /= norm
	}
	return m
}
