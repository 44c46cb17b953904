package postprocess

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SegMetric accumulates a confusion matrix over predicted and ground truth
// class maps and derives pixel accuracy and IoU quality measures from it.
// Row index is the ground truth label, column index the predicted label.
type SegMetric struct {
	numClasses int
	confusion  *mat.Dense
}

// NewSegMetric returns a segmentation metric accumulator for the given
// number of classes
func NewSegMetric(numClasses int) *SegMetric {
	return &SegMetric{
		numClasses: numClasses,
		confusion:  mat.NewDense(numClasses, numClasses, nil),
	}
}

// Reset zeroes the accumulated confusion matrix
func (m *SegMetric) Reset() {
	m.confusion.Zero()
}

// AddBatch accumulates one predicted/ground truth class map pair into the
// confusion matrix.  The two maps must have identical dimensions.
func (m *SegMetric) AddBatch(pred, label *ClassMap) error {

	if pred.Width != label.Width || pred.Height != label.Height {
		return fmt.Errorf("prediction map is %dx%d but label map is %dx%d",
			pred.Width, pred.Height, label.Width, label.Height)
	}

	for i := range label.Data {

		l := int(label.Data[i])
		p := int(pred.Data[i])

		// unlabeled pixels outside the class range are ignored
		if l < 0 || l >= m.numClasses || p < 0 || p >= m.numClasses {
			continue
		}

		m.confusion.Set(l, p, m.confusion.At(l, p)+1)
	}

	return nil
}

// PixelAccuracy returns the overall fraction of correctly classified pixels
func (m *SegMetric) PixelAccuracy() float64 {

	var correct, total float64

	for i := 0; i < m.numClasses; i++ {
		correct += m.confusion.At(i, i)

		for j := 0; j < m.numClasses; j++ {
			total += m.confusion.At(i, j)
		}
	}

	if total == 0 {
		return 0
	}

	return correct / total
}

// ClassPixelAccuracy returns the per class precision, correct pixels over
// all pixels predicted as that class
func (m *SegMetric) ClassPixelAccuracy() []float64 {

	acc := make([]float64, m.numClasses)

	for c := 0; c < m.numClasses; c++ {

		var predicted float64

		for i := 0; i < m.numClasses; i++ {
			predicted += m.confusion.At(i, c)
		}

		acc[c] = m.confusion.At(c, c) / (predicted + 1e-12)
	}

	return acc
}

// MeanPixelAccuracy returns the mean of the per class precision values
func (m *SegMetric) MeanPixelAccuracy() float64 {

	acc := m.ClassPixelAccuracy()

	var sum float64

	for _, a := range acc {
		sum += a
	}

	return sum / float64(len(acc))
}

// LineAccuracy returns the recall of class 1, the foreground class of a
// binary lane line map
func (m *SegMetric) LineAccuracy() float64 {

	if m.numClasses < 2 {
		return 0
	}

	var labeled float64

	for j := 0; j < m.numClasses; j++ {
		labeled += m.confusion.At(1, j)
	}

	return m.confusion.At(1, 1) / (labeled + 1e-12)
}

// IntersectionOverUnion returns the per class IoU where the union is the
// sum of ground truth and predicted pixels minus the intersection.  A class
// absent from both maps scores 0.
func (m *SegMetric) IntersectionOverUnion() []float64 {

	iou := make([]float64, m.numClasses)

	for c := 0; c < m.numClasses; c++ {

		inter := m.confusion.At(c, c)

		var labeled, predicted float64

		for j := 0; j < m.numClasses; j++ {
			labeled += m.confusion.At(c, j)
			predicted += m.confusion.At(j, c)
		}

		union := labeled + predicted - inter

		if union == 0 {
			iou[c] = 0
			continue
		}

		iou[c] = inter / union
	}

	return iou
}

// MeanIoU returns the mean of the per class IoU values
func (m *SegMetric) MeanIoU() float64 {

	iou := m.IntersectionOverUnion()

	var sum float64

	for _, v := range iou {
		sum += v
	}

	return sum / float64(len(iou))
}

// FrequencyWeightedIoU returns the per class IoU weighted by how often each
// class occurs in the ground truth
func (m *SegMetric) FrequencyWeightedIoU() float64 {

	iou := m.IntersectionOverUnion()

	var total float64
	freq := make([]float64, m.numClasses)

	for c := 0; c < m.numClasses; c++ {
		for j := 0; j < m.numClasses; j++ {
			freq[c] += m.confusion.At(c, j)
		}

		total += freq[c]
	}

	if total == 0 {
		return 0
	}

	var fwiou float64

	for c := 0; c < m.numClasses; c++ {
		if freq[c] > 0 {
			fwiou += freq[c] / total * iou[c]
		}
	}

	return fwiou
}

// AverageMeter computes and stores the running average of a value, used
// when accumulating per frame metric values across a sequence
type AverageMeter struct {
	Val   float64
	Avg   float64
	Sum   float64
	Count int
}

// Update adds n observations of the given value
func (a *AverageMeter) Update(val float64, n int) {

	a.Val = val
	a.Sum += val * float64(n)
	a.Count += n

	if a.Count != 0 {
		a.Avg = a.Sum / float64(a.Count)
	}
}

// Reset clears the accumulated state
func (a *AverageMeter) Reset() {
	*a = AverageMeter{}
}
