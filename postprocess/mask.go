package postprocess

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	yolopv2 "github.com/ZAP-FYP/YOLOPv2-1D-Coordinates"
)

// MaskParams defines the struct containing the segmentation mask decoding
// parameters to use for post processing operations
type MaskParams struct {
	// ROITop and ROIBottom crop the segmentation tensor to the fixed
	// vertical region of interest before upsampling.  Rows outside
	// [ROITop, ROIBottom) are discarded.
	ROITop    int
	ROIBottom int
	// UpsampleFactor scales the cropped region back up to working
	// resolution using bilinear interpolation
	UpsampleFactor int
}

// MaskDefaultParams returns an instance of MaskParams configured with the
// values the YOLOPv2 segmentation heads were exported with, a vertical crop
// of rows 12 to 372 followed by a 2x bilinear upsample
func MaskDefaultParams() MaskParams {
	return MaskParams{
		ROITop:         12,
		ROIBottom:      372,
		UpsampleFactor: 2,
	}
}

// ClassMap is a per pixel integer label grid decoded from a segmentation
// score tensor.  Entry 0 is background, 1 the primary class (drivable
// area), 2 the secondary class.
type ClassMap struct {
	// Data is the flat label grid in row-major order
	Data []uint8
	// grid dimensions
	Width  int
	Height int
}

// At returns the class label at the given pixel
func (m *ClassMap) At(x, y int) uint8 {
	return m.Data[y*m.Width+x]
}

// MaskDecoder converts raw per pixel class score tensors into integer class
// maps for the drivable area and lane line channels
type MaskDecoder struct {
	// Params are the mask decoding configuration parameters
	Params MaskParams
	// bufPool recycles the per channel upsample scratch buffers
	bufPool *bufferPool
}

// NewMaskDecoder returns an instance of the segmentation mask decoder
func NewMaskDecoder(p MaskParams) *MaskDecoder {

	m := &MaskDecoder{
		Params:  p,
		bufPool: newBufferPool(),
	}

	// pool sized for a 640 wide model at the configured crop and upsample,
	// Get falls back to allocation for larger tensors
	factor := maxInt(p.UpsampleFactor, 1)
	m.bufPool.Create("channel", (p.ROIBottom-p.ROITop)*640*factor*factor)

	return m
}

// DrivableAreaMask decodes the 2 channel drivable area score tensor of
// shape (1, 2, height, width) into a binary class map via per pixel argmax
// across the two channels
func (m *MaskDecoder) DrivableAreaMask(seg *yolopv2.Tensor) (*ClassMap, error) {

	upW, upH, ch0, ch1, err := m.upsampleChannels(seg, 2)

	if err != nil {
		return nil, err
	}

	defer m.bufPool.Put("channel", ch0)
	defer m.bufPool.Put("channel", ch1)

	data := make([]uint8, upW*upH)

	// argmax over the two channels
	for i := range data {
		if ch1[i] > ch0[i] {
			data[i] = 1
		}
	}

	return &ClassMap{
		Data:   data,
		Width:  upW,
		Height: upH,
	}, nil
}

// LaneLineMask decodes the single channel lane line score tensor of shape
// (1, 1, height, width) into a binary class map by rounding each pixel at
// the 0.5 threshold
func (m *MaskDecoder) LaneLineMask(ll *yolopv2.Tensor) (*ClassMap, error) {

	upW, upH, ch0, _, err := m.upsampleChannels(ll, 1)

	if err != nil {
		return nil, err
	}

	defer m.bufPool.Put("channel", ch0)

	data := make([]uint8, upW*upH)

	for i := range data {
		if ch0[i] >= 0.5 {
			data[i] = 1
		}
	}

	return &ClassMap{
		Data:   data,
		Width:  upW,
		Height: upH,
	}, nil
}

// upsampleChannels crops each tensor channel to the vertical region of
// interest and bilinearly upsamples it to working resolution.  The returned
// buffers come from the decoder pool, the caller puts them back.
func (m *MaskDecoder) upsampleChannels(t *yolopv2.Tensor,
	wantChannels int) (upW, upH int, ch0, ch1 []float32, err error) {

	if t == nil || t.NDims() != 4 {
		return 0, 0, nil, nil,
			fmt.Errorf("segmentation tensor must have shape (batch, channels, height, width)")
	}

	channels := t.Size(1)
	height := t.Size(2)
	width := t.Size(3)

	if channels != wantChannels {
		return 0, 0, nil, nil,
			fmt.Errorf("segmentation tensor has %d channels, expected %d",
				channels, wantChannels)
	}

	top := m.Params.ROITop
	bottom := m.Params.ROIBottom

	if bottom > height {
		bottom = height
	}

	if top < 0 || top >= bottom {
		return 0, 0, nil, nil,
			fmt.Errorf("invalid region of interest rows [%d, %d) for tensor height %d",
				m.Params.ROITop, m.Params.ROIBottom, height)
	}

	factor := m.Params.UpsampleFactor

	if factor < 1 {
		factor = 1
	}

	cropH := bottom - top
	upW = width * factor
	upH = cropH * factor

	frame, err := t.Frame(0)

	if err != nil {
		return 0, 0, nil, nil, err
	}

	out := make([][]float32, wantChannels)

	for c := 0; c < wantChannels; c++ {

		crop := frame[c*height*width+top*width : c*height*width+bottom*width]

		up, err := m.upsample(crop, width, cropH, upW, upH)

		if err != nil {
			return 0, 0, nil, nil, err
		}

		out[c] = up
	}

	ch0 = out[0]

	if wantChannels > 1 {
		ch1 = out[1]
	}

	return upW, upH, ch0, ch1, nil
}

// upsample resizes a single channel score grid using bilinear interpolation
func (m *MaskDecoder) upsample(src []float32, srcW, srcH, dstW,
	dstH int) ([]float32, error) {

	if dstW == srcW && dstH == srcH {
		buf := m.bufPool.Get("channel", len(src))
		copy(buf, src)
		return buf, nil
	}

	srcMat := gocv.NewMatWithSize(srcH, srcW, gocv.MatTypeCV32F)
	defer srcMat.Close()

	ptr, err := srcMat.DataPtrFloat32()

	if err != nil {
		return nil, fmt.Errorf("error getting data pointer for channel mat: %w", err)
	}

	copy(ptr, src)

	dstMat := gocv.NewMat()
	defer dstMat.Close()

	gocv.Resize(srcMat, &dstMat, image.Pt(dstW, dstH), 0, 0,
		gocv.InterpolationLinear)

	dstPtr, err := dstMat.DataPtrFloat32()

	if err != nil {
		return nil, fmt.Errorf("error getting data pointer for upsampled mat: %w", err)
	}

	buf := m.bufPool.Get("channel", dstW*dstH)
	copy(buf, dstPtr)

	return buf, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}
