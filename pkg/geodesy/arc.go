package geodesy

import "iter"

const (
	// ArcSegments is the number of Bezier segments sampled by ArcBetween.
	// The polyline therefore has ArcSegments+1 points.
	ArcSegments = 100

	// ArcLift is the fraction of the chord length the control point is raised by.
	ArcLift = 0.1
)

// ArcBetween yields the points of an arched polyline from p1 to p2.
//
// The control point is the midpoint of the chord p1–p2 pushed radially outward
// by ArcLift times the chord length; the quadratic Bezier (p1, control, p2) is
// then sampled at ArcSegments+1 evenly spaced parameters. The sequence is finite
// and can be ranged over any number of times.
func ArcBetween(p1, p2 Vec3) iter.Seq[Vec3] {
	ctrl := arcControlPoint(p1, p2)
	d1 := ctrl.Sub(p1)
	d2 := p2.Sub(p1)

	return func(yield func(Vec3) bool) {
		for i := 0; i <= ArcSegments; i++ {
			t := float64(i) / ArcSegments
			// B(t) = p1 + 2(1-t)t·(ctrl-p1) + t²·(p2-p1)
			pt := p1.Add(d1.Scale(2 * (1 - t) * t)).Add(d2.Scale(t * t))
			if !yield(pt) {
				return
			}
		}
	}
}

// ArcPoints collects ArcBetween into a slice.
func ArcPoints(p1, p2 Vec3) []Vec3 {
	pts := make([]Vec3, 0, ArcSegments+1)
	for p := range ArcBetween(p1, p2) {
		pts = append(pts, p)
	}
	return pts
}

func arcControlPoint(p1, p2 Vec3) Vec3 {
	mid := p1.Lerp(p2, 0.5)
	lift := p1.DistanceTo(p2) * ArcLift
	if mid.IsZero() || lift == 0 {
		return mid
	}
	return mid.Normalize().Scale(mid.Length() + lift)
}
