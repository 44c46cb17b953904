package postprocess

import (
	"testing"

	yolopv2 "github.com/ZAP-FYP/YOLOPv2-1D-Coordinates"
)

// constSegTensor builds a (1, channels, height, width) score tensor with a
// constant value per channel
func constSegTensor(t *testing.T, height, width int,
	vals ...float32) *yolopv2.Tensor {

	t.Helper()

	channels := len(vals)
	data := make([]float32, channels*height*width)

	for c, v := range vals {
		for i := 0; i < height*width; i++ {
			data[c*height*width+i] = v
		}
	}

	seg, err := yolopv2.NewTensor(data, 1, channels, height, width)

	if err != nil {
		t.Fatalf("building segmentation tensor: %v", err)
	}

	return seg
}

func TestDrivableAreaMask(t *testing.T) {

	// channel 1 scores higher everywhere, every pixel is drivable
	seg := constSegTensor(t, 384, 640, 0.2, 0.8)

	d := NewMaskDecoder(MaskDefaultParams())
	cm, err := d.DrivableAreaMask(seg)

	if err != nil {
		t.Fatalf("DrivableAreaMask failed: %v", err)
	}

	// crop of rows 12:372 upsampled 2x
	if cm.Width != 1280 || cm.Height != 720 {
		t.Fatalf("class map is %dx%d, expected 1280x720", cm.Width, cm.Height)
	}

	for i, v := range cm.Data {
		if v != 1 {
			t.Fatalf("pixel %d is %d, expected 1", i, v)
		}
	}

	// flipping the channels yields all background
	seg = constSegTensor(t, 384, 640, 0.8, 0.2)
	cm, err = d.DrivableAreaMask(seg)

	if err != nil {
		t.Fatalf("DrivableAreaMask failed: %v", err)
	}

	for i, v := range cm.Data {
		if v != 0 {
			t.Fatalf("pixel %d is %d, expected 0", i, v)
		}
	}
}

func TestLaneLineMask(t *testing.T) {

	// exactly 0.5 rounds up to a lane pixel
	ll := constSegTensor(t, 384, 640, 0.5)

	d := NewMaskDecoder(MaskDefaultParams())
	cm, err := d.LaneLineMask(ll)

	if err != nil {
		t.Fatalf("LaneLineMask failed: %v", err)
	}

	if cm.Width != 1280 || cm.Height != 720 {
		t.Fatalf("class map is %dx%d, expected 1280x720", cm.Width, cm.Height)
	}

	if cm.At(0, 0) != 1 || cm.At(1279, 719) != 1 {
		t.Errorf("0.5 score should round to a lane pixel")
	}

	ll = constSegTensor(t, 384, 640, 0.49)
	cm, err = d.LaneLineMask(ll)

	if err != nil {
		t.Fatalf("LaneLineMask failed: %v", err)
	}

	if cm.At(0, 0) != 0 {
		t.Errorf("0.49 score should round to background")
	}
}

func TestMaskDecoderNoUpsample(t *testing.T) {

	params := MaskParams{
		ROITop:         0,
		ROIBottom:      4,
		UpsampleFactor: 1,
	}

	ll := constSegTensor(t, 4, 8, 0.9)

	d := NewMaskDecoder(params)
	cm, err := d.LaneLineMask(ll)

	if err != nil {
		t.Fatalf("LaneLineMask failed: %v", err)
	}

	if cm.Width != 8 || cm.Height != 4 {
		t.Fatalf("class map is %dx%d, expected 8x4", cm.Width, cm.Height)
	}
}

func TestMaskDecoderShapeErrors(t *testing.T) {

	d := NewMaskDecoder(MaskDefaultParams())

	// wrong channel count for the drivable area head
	seg := constSegTensor(t, 384, 640, 0.5)

	if _, err := d.DrivableAreaMask(seg); err == nil {
		t.Errorf("expected channel count error for 1 channel tensor")
	}

	// 3D tensor is rejected
	flat, err := yolopv2.NewTensor(make([]float32, 2*4*8), 2, 4, 8)

	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}

	if _, err := d.LaneLineMask(flat); err == nil {
		t.Errorf("expected shape error for 3D tensor")
	}

	// region of interest entirely outside the tensor
	bad := NewMaskDecoder(MaskParams{ROITop: 100, ROIBottom: 200, UpsampleFactor: 1})
	tiny := constSegTensor(t, 10, 8, 0.5)

	if _, err := bad.LaneLineMask(tiny); err == nil {
		t.Errorf("expected region of interest error")
	}
}
