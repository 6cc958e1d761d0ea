// Package geometry provides bounding box representations and the
// Intersection-over-Union kernel shared by suppression and evaluation.
package geometry

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidArgument is returned for malformed caller input such as an unknown box format.
var ErrInvalidArgument = errors.New("invalid argument")

// Format selects how the four scalars of a Box are interpreted.
type Format string

const (
	// FormatCorners interprets a box as (x1, y1, x2, y2).
	FormatCorners Format = "corners"
	// FormatMidpoint interprets a box as (x_center, y_center, width, height).
	FormatMidpoint Format = "midpoint"
)

// ParseFormat converts a user supplied string into a Format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if err := f.Validate(); err != nil {
		return "", err
	}
	return f, nil
}

// Validate reports whether f is a supported format.
func (f Format) Validate() error {
	switch f {
	case FormatCorners, FormatMidpoint:
		return nil
	default:
		return errors.Wrapf(ErrInvalidArgument, "unknown bounding box format %q", string(f))
	}
}

// String implements fmt.Stringer.
func (f Format) String() string { return string(f) }

// Box holds four box scalars whose meaning depends on a Format.
type Box [4]float64

// Corners is a box in opposite-corner form. No ordering between Min and Max is enforced.
type Corners struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// Width returns the signed box width.
func (c Corners) Width() float64 { return c.MaxX - c.MinX }

// Height returns the signed box height.
func (c Corners) Height() float64 { return c.MaxY - c.MinY }

// Area returns Width*Height without clamping; inverted boxes yield a negative area.
func (c Corners) Area() float64 { return c.Width() * c.Height() }

// ToCorners converts b to corner form. The format must already be valid;
// any value other than FormatMidpoint is treated as corners.
func (f Format) ToCorners(b Box) Corners {
	if f == FormatMidpoint {
		hw, hh := b[2]/2, b[3]/2
		return Corners{MinX: b[0] - hw, MinY: b[1] - hh, MaxX: b[0] + hw, MaxY: b[1] + hh}
	}
	return Corners{MinX: b[0], MinY: b[1], MaxX: b[2], MaxY: b[3]}
}

// FromCorners converts corner coordinates back into a Box of format f.
func (f Format) FromCorners(c Corners) Box {
	if f == FormatMidpoint {
		return Box{(c.MinX + c.MaxX) / 2, (c.MinY + c.MaxY) / 2, c.Width(), c.Height()}
	}
	return Box{c.MinX, c.MinY, c.MaxX, c.MaxY}
}

// BoxFromSlice copies exactly four values into a Box.
func BoxFromSlice(v []float64) (Box, error) {
	if len(v) != 4 {
		return Box{}, errors.Wrapf(ErrInvalidArgument, "box needs 4 coordinates, got %d", len(v))
	}
	return Box{v[0], v[1], v[2], v[3]}, nil
}

// ParseID converts a numeric tuple field such as a class or image id into a non-negative integer.
func ParseID(v float64, field string) (int, error) {
	if v < 0 || v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, errors.Wrapf(ErrInvalidArgument, "%s must be a non-negative integer, got %v", field, v)
	}
	return int(v), nil
}
