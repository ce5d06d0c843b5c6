package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// degenerateEpsilon is the relative tolerance for coincident and collinear
// points. It is scaled by the spread of each point set, so it behaves the
// same for normalized and pixel coordinates.
const degenerateEpsilon = 1e-6

// Correspondence pairs a point in the source space with its image in the
// destination space.
type Correspondence struct {
	Source      Point2D `json:"source"`
	Destination Point2D `json:"destination"`
}

// CorrespondenceSet is exactly four correspondences. Index i of the source
// corners pairs with index i of the destination corners.
type CorrespondenceSet [4]Correspondence

// NewCorrespondenceSet pairs src[i] with dst[i].
func NewCorrespondenceSet(src, dst [4]Point2D) CorrespondenceSet {
	var set CorrespondenceSet
	for i := range set {
		set[i] = Correspondence{Source: src[i], Destination: dst[i]}
	}
	return set
}

// Sources returns the source points in order.
func (s CorrespondenceSet) Sources() [4]Point2D {
	var out [4]Point2D
	for i, c := range s {
		out[i] = c.Source
	}
	return out
}

// Destinations returns the destination points in order.
func (s CorrespondenceSet) Destinations() [4]Point2D {
	var out [4]Point2D
	for i, c := range s {
		out[i] = c.Destination
	}
	return out
}

// Solve computes the homography mapping each source point onto its
// destination point. The eight unknowns a..h are found from the standard
// two-equations-per-pair linear system with i fixed to 1:
//
//	a·x + b·y + c − g·x·X − h·y·X = X
//	d·x + e·y + f − g·x·Y − h·y·Y = Y
//
// Both point sets are conditioned first (centroid at the origin, mean
// distance √2) and the solution is mapped back, so the singularity checks
// do not depend on coordinate magnitude. Degenerate input returns an error
// wrapping ErrSingular; Solve never falls back to the identity.
func Solve(set CorrespondenceSet) (Transform, error) {
	src, dst := set.Sources(), set.Destinations()
	if err := checkDegenerate("source", src); err != nil {
		return Transform{}, err
	}
	if err := checkDegenerate("destination", dst); err != nil {
		return Transform{}, err
	}

	tSrc, srcN := condition(src)
	tDst, dstN := condition(dst)

	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := srcN[i].X, srcN[i].Y
		X, Y := dstN[i].X, dstN[i].Y

		r := 2 * i
		a.SetRow(r, []float64{x, y, 1, 0, 0, 0, -x * X, -y * X})
		b.SetVec(r, X)
		a.SetRow(r+1, []float64{0, 0, 0, x, y, 1, -x * Y, -y * Y})
		b.SetVec(r+1, Y)
	}

	var lu mat.LU
	lu.Factorize(a)
	if det := lu.Det(); math.Abs(det) < wEpsilon || math.IsNaN(det) {
		return Transform{}, fmt.Errorf("solve: determinant %g: %w", det, ErrSingular)
	}
	if c := lu.Cond(); math.IsInf(c, 1) || c > maxCondition {
		return Transform{}, fmt.Errorf("solve: condition number %g: %w", c, ErrSingular)
	}

	var h mat.VecDense
	if err := lu.SolveVecTo(&h, false, b); err != nil {
		return Transform{}, fmt.Errorf("solve: %v: %w", err, ErrSingular)
	}

	hn := Transform{m: [9]float64{
		h.AtVec(0), h.AtVec(1), h.AtVec(2),
		h.AtVec(3), h.AtVec(4), h.AtVec(5),
		h.AtVec(6), h.AtVec(7), 1,
	}}

	// H = T_dst⁻¹ · Hn · T_src
	dstInv, err := tDst.Invert()
	if err != nil {
		return Transform{}, fmt.Errorf("solve: %w", err)
	}
	out := tSrc.Then(hn).Then(dstInv)
	if math.Abs(out.m[8]) < wEpsilon {
		return Transform{}, fmt.Errorf("solve: vanishing scale: %w", ErrSingular)
	}
	return out, nil
}

// condition returns the similarity transform that moves the points'
// centroid to the origin and scales their mean distance to √2, along with
// the conditioned points.
func condition(points [4]Point2D) (Transform, [4]Point2D) {
	var c Point2D
	for _, p := range points {
		c = c.Add(p)
	}
	c = c.Scale(0.25)

	var mean float64
	for _, p := range points {
		mean += p.Distance(c)
	}
	mean /= 4

	s := math.Sqrt2 / mean
	t := Transform{m: [9]float64{s, 0, -s * c.X, 0, s, -s * c.Y, 0, 0, 1}}

	var out [4]Point2D
	for i, p := range points {
		out[i] = p.Sub(c).Scale(s)
	}
	return t, out
}

// checkDegenerate rejects point sets with coincident points or any three
// collinear points.
func checkDegenerate(label string, points [4]Point2D) error {
	var c Point2D
	for _, p := range points {
		c = c.Add(p)
	}
	c = c.Scale(0.25)

	var scale float64
	for _, p := range points {
		scale = math.Max(scale, p.Distance(c))
	}
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return fmt.Errorf("solve: %s points coincide: %w", label, ErrSingular)
	}

	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			if points[i].Distance(points[j]) < degenerateEpsilon*scale {
				return fmt.Errorf("solve: %s points %d and %d coincide: %w", label, i, j, ErrSingular)
			}
		}
	}

	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			for k := j + 1; k < 4; k++ {
				u := points[j].Sub(points[i])
				v := points[k].Sub(points[i])
				area := math.Abs(u.X*v.Y-u.Y*v.X) / 2
				if area < degenerateEpsilon*scale*scale {
					return fmt.Errorf("solve: %s points %d, %d and %d are collinear: %w", label, i, j, k, ErrSingular)
				}
			}
		}
	}
	return nil
}
