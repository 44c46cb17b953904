package postprocess

import (
	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/mat"

	"github.com/ZAP-FYP/YOLOPv2-1D-Coordinates/preprocess"
)

// Box is an axis aligned bounding box in corner form where (X1, Y1) is the
// top left and (X2, Y2) the bottom right corner
type Box struct {
	X1 float32
	Y1 float32
	X2 float32
	Y2 float32
}

// BoxFromCenter converts a center form box (cx, cy, w, h) into corner form
func BoxFromCenter(cx, cy, w, h float32) Box {
	return Box{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

// Center converts the box back into center form (cx, cy, w, h).  It is the
// algebraic inverse of BoxFromCenter up to floating point rounding.
func (b Box) Center() (cx, cy, w, h float32) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2, b.X2 - b.X1, b.Y2 - b.Y1
}

// Area returns the box area.  A degenerate box where either dimension is
// inverted or zero has area 0.
func (b Box) Area() float32 {

	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return 0
	}

	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// Clip clamps each coordinate into the image bounds.  Out of range inputs
// are silently clamped, never an error.
func (b Box) Clip(width, height int) Box {

	w := float32(width)
	h := float32(height)

	return Box{
		X1: math32.Min(math32.Max(b.X1, 0), w),
		Y1: math32.Min(math32.Max(b.Y1, 0), h),
		X2: math32.Min(math32.Max(b.X2, 0), w),
		Y2: math32.Min(math32.Max(b.Y2, 0), h),
	}
}

// offset shifts the box by the given amount on both axis.  Used for the
// class offset trick during class aware suppression.
func (b Box) offset(d float32) Box {
	return Box{b.X1 + d, b.Y1 + d, b.X2 + d, b.Y2 + d}
}

// IoU returns the Intersection over Union (Jaccard index) of two boxes in
// corner form.  A zero union is treated as zero overlap so degenerate boxes
// never produce a division by zero.
func IoU(a, b Box) float32 {

	interW := math32.Max(0, math32.Min(a.X2, b.X2)-math32.Max(a.X1, b.X1))
	interH := math32.Max(0, math32.Min(a.Y2, b.Y2)-math32.Max(a.Y1, b.Y1))
	inter := interW * interH

	union := a.Area() + b.Area() - inter

	if union <= 0 {
		return 0
	}

	return inter / union
}

// IoUMatrix returns the NxM matrix of pairwise IoU values between the two
// box sets
func IoUMatrix(a, b []Box) *mat.Dense {

	if len(a) == 0 || len(b) == 0 {
		return nil
	}

	m := mat.NewDense(len(a), len(b), nil)

	for i, boxA := range a {
		for j, boxB := range b {
			m.Set(i, j, float64(IoU(boxA, boxB)))
		}
	}

	return m
}

// ScaleCoords maps boxes computed in the padded/resized space back into the
// original image space by subtracting the padding then dividing by the scale
// ratio, clipping the result to the original image bounds.  If tr is nil a
// transform is derived from the two shapes assuming uniform letterbox
// centering, when the Transform from the resize is available pass it in to
// avoid rounding divergence.
func ScaleCoords(boxes []Box, fromWidth, fromHeight, toWidth, toHeight int,
	tr *preprocess.Transform) []Box {

	if tr == nil {
		tr = preprocess.DeriveTransform(toWidth, toHeight, fromWidth, fromHeight)
	}

	out := make([]Box, len(boxes))

	for i, b := range boxes {
		x1, y1 := tr.ToOriginal(b.X1, b.Y1)
		x2, y2 := tr.ToOriginal(b.X2, b.Y2)

		out[i] = Box{x1, y1, x2, y2}.Clip(toWidth, toHeight)
	}

	return out
}
