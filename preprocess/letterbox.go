package preprocess

import (
	"fmt"
	"image"
	"image/color"

	"github.com/chewxy/math32"
	"gocv.io/x/gocv"
)

// LetterboxParams defines the struct containing the letterbox parameters to
// use when scaling an image to the models input tensor size
type LetterboxParams struct {
	// TargetWidth is the width of the model input tensor
	TargetWidth int
	// TargetHeight is the height of the model input tensor
	TargetHeight int
	// Stride aligns the padding to a multiple of the models convolution
	// stride (minimum rectangle mode).  A value of 0 pads out to the full
	// target size instead.
	Stride int
	// ScaleUp permits upscaling of images smaller than the target size.
	// When false the scale ratio is clamped to 1.0 and the image is only
	// ever padded
	ScaleUp bool
	// ScaleFill stretches the image to the exact target size without any
	// padding, sacrificing the aspect ratio
	ScaleFill bool
	// PadColor is the color used to fill the letterbox padding
	PadColor color.RGBA
}

// LetterboxDefaultParams returns an instance of LetterboxParams configured
// with the standard values used for YOLO family models:
// - Target size: 640x640
// - Stride: 32
// - Scale up: allowed
// - Pad color: gray (114, 114, 114)
func LetterboxDefaultParams() LetterboxParams {
	return LetterboxParams{
		TargetWidth:  640,
		TargetHeight: 640,
		Stride:       32,
		ScaleUp:      true,
		ScaleFill:    false,
		PadColor:     color.RGBA{R: 114, G: 114, B: 114, A: 255},
	}
}

// Letterbox handles aspect preserving image resizing with padding
type Letterbox struct {
	// Params are the letterbox configuration parameters
	Params LetterboxParams
	// tempMat is a Mat used during the resize process
	tempMat gocv.Mat
}

// NewLetterbox returns a letterbox resizer used for scaling images to the
// dimensions needed for the models input tensor size
func NewLetterbox(p LetterboxParams) *Letterbox {
	return &Letterbox{
		Params:  p,
		tempMat: gocv.NewMat(),
	}
}

// Close frees memory allocated during the resize process
func (l *Letterbox) Close() error {
	return l.tempMat.Close()
}

// Transform is the immutable record of a single letterbox resize.  It maps
// coordinates between the padded/resized space and the original image space
// and is the authoritative source for the inverse mapping, reconstructing
// the transform from shapes alone can diverge by a pixel due to rounding.
type Transform struct {
	// RatioX and RatioY are the scale ratios applied to each axis.  They
	// are equal unless ScaleFill stretched the image
	RatioX float32
	RatioY float32
	// PadX and PadY are the padding added to the leading edge of each
	// axis.  Fractional values occur when the total padding is odd
	PadX float32
	PadY float32
	// source image dimensions
	SrcWidth  int
	SrcHeight int
	// padded/resized image dimensions
	DstWidth  int
	DstHeight int
}

// Resize scales the source image to the target dimensions whilst maintaining
// the image aspect and padding the remainder, then returns the Transform
// record describing the mapping that was applied
func (l *Letterbox) Resize(src gocv.Mat, dst *gocv.Mat) (*Transform, error) {

	srcHeight := src.Rows()
	srcWidth := src.Cols()

	if srcWidth <= 0 || srcHeight <= 0 {
		return nil, fmt.Errorf("source image has invalid size %dx%d",
			srcWidth, srcHeight)
	}

	// uniform scale ratio (new / old)
	r := math32.Min(
		float32(l.Params.TargetHeight)/float32(srcHeight),
		float32(l.Params.TargetWidth)/float32(srcWidth),
	)

	if !l.Params.ScaleUp {
		// only scale down, do not scale up (for better test mAP)
		r = math32.Min(r, 1.0)
	}

	ratioX, ratioY := r, r
	unpadWidth := int(math32.Round(float32(srcWidth) * r))
	unpadHeight := int(math32.Round(float32(srcHeight) * r))

	dw := float32(l.Params.TargetWidth - unpadWidth)
	dh := float32(l.Params.TargetHeight - unpadHeight)

	if l.Params.ScaleFill {
		// stretch to exact target size, no padding
		dw, dh = 0, 0
		unpadWidth = l.Params.TargetWidth
		unpadHeight = l.Params.TargetHeight
		ratioX = float32(l.Params.TargetWidth) / float32(srcWidth)
		ratioY = float32(l.Params.TargetHeight) / float32(srcHeight)

	} else if l.Params.Stride > 0 {
		// minimum rectangle, pad only up to the next stride multiple
		dw = float32(int(dw) % l.Params.Stride)
		dh = float32(int(dh) % l.Params.Stride)
	}

	// divide padding into 2 sides
	dw /= 2
	dh /= 2

	if srcWidth != unpadWidth || srcHeight != unpadHeight {
		gocv.Resize(src, &l.tempMat, image.Pt(unpadWidth, unpadHeight),
			0, 0, gocv.InterpolationLinear)
	} else {
		src.CopyTo(&l.tempMat)
	}

	// fractional splits round asymmetrically so the total padding stays
	// exact, the trailing edge takes the extra pixel
	top := int(math32.Round(dh - 0.1))
	bottom := int(math32.Round(dh + 0.1))
	left := int(math32.Round(dw - 0.1))
	right := int(math32.Round(dw + 0.1))

	gocv.CopyMakeBorder(l.tempMat, dst, top, bottom, left, right,
		gocv.BorderConstant, l.Params.PadColor)

	return &Transform{
		RatioX:    ratioX,
		RatioY:    ratioY,
		PadX:      dw,
		PadY:      dh,
		SrcWidth:  srcWidth,
		SrcHeight: srcHeight,
		DstWidth:  unpadWidth + left + right,
		DstHeight: unpadHeight + top + bottom,
	}, nil
}

// ToOriginal maps a point in the padded/resized space back to the original
// image space by subtracting the padding then dividing by the scale ratio
func (t *Transform) ToOriginal(x, y float32) (float32, float32) {
	return (x - t.PadX) / t.RatioX, (y - t.PadY) / t.RatioY
}

// FromOriginal maps a point in the original image space into the
// padded/resized space
func (t *Transform) FromOriginal(x, y float32) (float32, float32) {
	return x*t.RatioX + t.PadX, y*t.RatioY + t.PadY
}

// DeriveTransform reconstructs a letterbox transform from the source and
// destination shapes assuming uniform scaling with centered padding.  Used
// when the Transform produced at resize time is no longer available.
func DeriveTransform(srcWidth, srcHeight, dstWidth, dstHeight int) *Transform {

	gain := math32.Min(
		float32(dstHeight)/float32(srcHeight),
		float32(dstWidth)/float32(srcWidth),
	)

	return &Transform{
		RatioX:    gain,
		RatioY:    gain,
		PadX:      (float32(dstWidth) - float32(srcWidth)*gain) / 2,
		PadY:      (float32(dstHeight) - float32(srcHeight)*gain) / 2,
		SrcWidth:  srcWidth,
		SrcHeight: srcHeight,
		DstWidth:  dstWidth,
		DstHeight: dstHeight,
	}
}
