package postprocess

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// ErrWidthTooSmall is returned when the class map is narrower than the
// configured sample count, which would make the resampling bucket width
// zero.  Rejecting the input outright was chosen over silently degrading to
// a one sample per pixel profile.
var ErrWidthTooSmall = errors.New("class map width is smaller than the boundary sample count")

// BoundaryParams defines the struct containing the boundary extraction
// parameters to use for post processing operations
type BoundaryParams struct {
	// SampleCount is the nominal number of samples in the output profile.
	// The bucket width is the integer division of the map width by this
	// count, a trailing partial bucket adds one extra sample.
	SampleCount int
	// EdgeThickness is the number of dilation iterations applied to the
	// display copy of the edge mask.  The dilated mask never feeds back
	// into the numeric extraction.
	EdgeThickness int
}

// BoundaryDefaultParams returns an instance of BoundaryParams configured
// with a 100 sample profile and an edge display thickness of 3
func BoundaryDefaultParams() BoundaryParams {
	return BoundaryParams{
		SampleCount:   100,
		EdgeThickness: 3,
	}
}

// ProfilePoint is a single sample of the boundary profile.  Y is measured
// from the bottom of the image.
type ProfilePoint struct {
	X int
	Y int
}

// BoundaryProfile is the fixed length 1D height profile summarizing the
// drivable boundary, one sample per horizontal bucket, monotonic in X
type BoundaryProfile struct {
	// Points are the (x, y) samples in ascending x order
	Points []ProfilePoint
}

// Heights returns the y values alone as the canonical profile vector for
// downstream consumption
func (p *BoundaryProfile) Heights() []int {

	ys := make([]int, len(p.Points))

	for i, pt := range p.Points {
		ys[i] = pt.Y
	}

	return ys
}

// BoundaryExtractor compresses a 2D drivable area class map into the fixed
// length 1D boundary profile.  It is stateless across calls.
type BoundaryExtractor struct {
	// Params are the boundary extraction configuration parameters
	Params BoundaryParams
}

// NewBoundaryExtractor returns an instance of the boundary extraction post
// processor
func NewBoundaryExtractor(p BoundaryParams) *BoundaryExtractor {
	return &BoundaryExtractor{
		Params: p,
	}
}

// EdgeMask runs edge detection over the binary class map and returns a new
// mask marking the boundary pixels with 255
func (e *BoundaryExtractor) EdgeMask(cm *ClassMap) ([]uint8, error) {

	if cm == nil || len(cm.Data) != cm.Width*cm.Height {
		return nil, fmt.Errorf("class map data does not match its dimensions")
	}

	src, err := gocv.NewMatFromBytes(cm.Height, cm.Width, gocv.MatTypeCV8U,
		cm.Data)

	if err != nil {
		return nil, fmt.Errorf("error creating mat from class map: %w", err)
	}

	defer src.Close()

	edges := gocv.NewMat()
	defer edges.Close()

	// the class map holds 0/1 values so the hysteresis thresholds sit
	// between them
	gocv.Canny(src, &edges, 0, 1)

	out := make([]uint8, cm.Width*cm.Height)
	copy(out, edges.ToBytes())

	return out, nil
}

// DilateEdges thickens a copy of the edge mask for display.  The returned
// mask must not be fed back into Extract, thin edges are what the numeric
// extraction is calibrated on.
func (e *BoundaryExtractor) DilateEdges(edges []uint8, width,
	height int) ([]uint8, error) {

	if len(edges) != width*height {
		return nil, fmt.Errorf("edge mask data does not match its dimensions")
	}

	src, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8U, edges)

	if err != nil {
		return nil, fmt.Errorf("error creating mat from edge mask: %w", err)
	}

	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()

	src.CopyTo(&dst)

	for i := 0; i < e.Params.EdgeThickness; i++ {
		gocv.Dilate(dst, &dst, kernel)
	}

	out := make([]uint8, width*height)
	copy(out, dst.ToBytes())

	return out, nil
}

// Extract runs the full boundary pipeline on a binary drivable area class
// map: edge detection, polygon extraction, bottom edge filtering, gap
// filling and resampling down to the fixed length profile
func (e *BoundaryExtractor) Extract(cm *ClassMap) (*BoundaryProfile, error) {

	edges, err := e.EdgeMask(cm)

	if err != nil {
		return nil, err
	}

	return e.ExtractFromEdges(edges, cm.Width, cm.Height)
}

// ExtractFromEdges builds the boundary profile from an existing edge mask.
// Nonzero mask pixels mark boundary points.
func (e *BoundaryExtractor) ExtractFromEdges(edges []uint8, width,
	height int) (*BoundaryProfile, error) {

	if len(edges) != width*height {
		return nil, fmt.Errorf("edge mask data does not match its dimensions")
	}

	if e.Params.SampleCount <= 0 {
		return nil, fmt.Errorf("boundary sample count must be positive, got %d",
			e.Params.SampleCount)
	}

	if width < e.Params.SampleCount {
		return nil, fmt.Errorf("%w: width %d, sample count %d",
			ErrWidthTooSmall, width, e.Params.SampleCount)
	}

	// bottom edge filter: keep the maximum bottom-origin y per column.
	// multiple edge pixels in a column collapse to the topmost boundary,
	// a lower disjoint region in the same column is silently discarded
	// which assumes a single continuous road boundary.
	maxY := make(map[int]int)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {

			if edges[y*width+x] == 0 {
				continue
			}

			// flip to a bottom-origin coordinate system
			fy := height - y - 1

			if cur, ok := maxY[x]; !ok || fy > cur {
				maxY[x] = fy
			}
		}
	}

	// gap filling: one y value per column across the full width, missing
	// columns are biased to zero height rather than interpolated.  this
	// also covers the all background mask, which degrades to a flat
	// boundary of zero height instead of failing
	ys := make([]float64, width)

	for x := 0; x < width; x++ {
		if y, ok := maxY[x]; ok {
			ys[x] = float64(y)
		}
	}

	return e.resample(ys, width)
}

// resample partitions the width-complete column list into contiguous
// buckets and emits one sample per bucket: the median x and the rounded
// mean y of the bucket
func (e *BoundaryExtractor) resample(ys []float64, width int) (*BoundaryProfile, error) {

	bucketWidth := width / e.Params.SampleCount

	points := make([]ProfilePoint, 0, e.Params.SampleCount+1)

	for i := 0; i < width; i += bucketWidth {

		end := i + bucketWidth

		if end > width {
			// trailing partial bucket keeps whatever remainder it has
			end = width
		}

		xs := make([]float64, 0, bucketWidth)

		for x := i; x < end; x++ {
			xs = append(xs, float64(x))
		}

		sort.Float64s(xs)

		medianX := stat.Quantile(0.5, stat.LinInterp, xs, nil)
		meanY := stat.Mean(ys[i:end], nil)

		points = append(points, ProfilePoint{
			X: int(math.Round(medianX)),
			Y: int(math.Round(meanY)),
		})
	}

	return &BoundaryProfile{Points: points}, nil
}
