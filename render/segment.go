package render

import (
	"image"

	clipper "github.com/ctessum/go.clipper"
	"gocv.io/x/gocv"

	"github.com/ZAP-FYP/YOLOPv2-1D-Coordinates/postprocess"
)

// ClassMapOverlay renders the segmentation class map as a transparent
// overlay on top of the whole image using the driving palette
func ClassMapOverlay(img *gocv.Mat, cm *postprocess.ClassMap, alpha float32) {

	// get dimensions
	width := img.Cols()
	height := img.Rows()

	if cm.Width != width || cm.Height != height {
		return
	}

	// it is too slow to manipulate pixel by pixel using GoCV due to slowness
	// over CGO.  So we copy the bytes from the source image and manipulate
	// the bytes directly before copying back to a Mat
	imgData := img.ToBytes()

	// iterate over each pixel in the class map
	for j := 0; j < height; j++ {
		for k := 0; k < width; k++ {

			idx := j*width + k

			if cm.Data[idx] == 0 {
				continue
			}

			classIndex := cm.Data[idx] % uint8(len(drivingPalette))
			clr := drivingPalette[classIndex]

			// calculate position in the byte slice
			pixelPos := j*width*3 + k*3

			// get original pixel colors directly from the byte slice
			b, g, r := imgData[pixelPos+0], imgData[pixelPos+1], imgData[pixelPos+2]

			// calculate blended colors based on alpha transparency
			imgData[pixelPos+0] = uint8(float32(b)*(1-alpha) + float32(clr.B)*alpha)
			imgData[pixelPos+1] = uint8(float32(g)*(1-alpha) + float32(clr.G)*alpha)
			imgData[pixelPos+2] = uint8(float32(r)*(1-alpha) + float32(clr.R)*alpha)
		}
	}

	// copy back to the original mat
	tmpImg, _ := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, imgData)
	defer tmpImg.Close()
	tmpImg.CopyTo(img)
}

// BoundaryOverlay draws the boundary profile as a thickened polyline over
// the image.  The profile polyline is inflated into a closed polygon with a
// round join offset, this is the display only counterpart of the thin edge
// mask used for numeric extraction.
func BoundaryOverlay(img *gocv.Mat, profile *postprocess.BoundaryProfile,
	thickness int) {

	if len(profile.Points) < 2 {
		return
	}

	height := img.Rows()

	// profile y values are bottom-origin, flip back to raster rows
	var path clipper.Path

	for _, pt := range profile.Points {
		path = append(path, &clipper.IntPoint{
			X: clipper.CInt(pt.X),
			Y: clipper.CInt(height - pt.Y - 1),
		})
	}

	if thickness < 1 {
		thickness = 1
	}

	// inflate the open polyline into a closed polygon of the display
	// thickness
	co := clipper.NewClipperOffset()
	co.AddPath(path, clipper.JtRound, clipper.EtOpenRound)
	inflated := co.Execute(float64(thickness))

	pv := gocv.NewPointsVector()
	defer pv.Close()

	for _, poly := range inflated {

		points := make([]image.Point, 0, len(poly))

		for _, p := range poly {
			points = append(points, image.Pt(int(p.X), int(p.Y)))
		}

		polyVec := gocv.NewPointVectorFromPoints(points)
		pv.Append(polyVec)
		polyVec.Close()
	}

	gocv.FillPoly(img, pv, Green)
}
