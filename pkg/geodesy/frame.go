package geodesy

import (
	"errors"
	"math"
)

// GlobalUp is the ECEF polar axis. East is derived from it, so positions on the
// axis itself (the geographic poles) have no defined local frame.
var GlobalUp = Vec3{0, 0, 1}

// ErrDegenerateFrame is returned by LocalFrame for the zero vector and for
// positions parallel to GlobalUp.
var ErrDegenerateFrame = errors.New("degenerate local frame")

// Frame is the local tangent basis at a position.
type Frame struct {
	Up    Vec3
	East  Vec3
	North Vec3
}

// LocalFrame derives the up/east/north basis at position:
//
//	up    = normalize(position)
//	east  = normalize(GlobalUp × up)
//	north = normalize(up × east)
//
// It returns ErrDegenerateFrame instead of a basis containing NaNs when the
// cross product vanishes.
func LocalFrame(position Vec3) (Frame, error) {
	if position.IsZero() {
		return Frame{}, ErrDegenerateFrame
	}
	up := position.Normalize()

	east := GlobalUp.Cross(up)
	if east.Length() < 1e-12 {
		return Frame{}, ErrDegenerateFrame
	}
	east = east.Normalize()
	north := up.Cross(east).Normalize()

	return Frame{Up: up, East: east, North: north}, nil
}

// HeadingVector returns the unit forward direction for a heading measured
// clockwise from north (0° = north, 90° = east).
func HeadingVector(f Frame, headingDeg float64) Vec3 {
	sin, cos := math.Sincos(headingDeg * DegreesToRadians)
	return f.North.Scale(cos).Add(f.East.Scale(sin))
}
