package postprocess

import (
	"fmt"
	"log"
	"runtime"
	"sort"
	"sync"
	"time"

	yolopv2 "github.com/ZAP-FYP/YOLOPv2-1D-Coordinates"
)

// Detection defines the attributes of a single object that survived
// suppression
type Detection struct {
	// Box is the bounding box location in corner form
	Box Box
	// Conf is the confidence score of the detection, the product of the
	// objectness and the class score
	Conf float32
	// Class is the class id of the detected object
	Class int
}

// AprioriLabel is a ground truth box forced into the candidate set at full
// confidence.  Used for label assisted evaluation, not plain inference.
type AprioriLabel struct {
	// Class is the ground truth class id
	Class int
	// box in center form
	CX float32
	CY float32
	W  float32
	H  float32
}

// NMSParams defines the struct containing the Non-Maximum Suppression
// parameters to use for post processing operations
type NMSParams struct {
	// ConfThreshold is the minimum confidence score required for a
	// candidate box to be considered for processing
	ConfThreshold float32
	// IoUThreshold is the maximum allowed Intersection over Union between
	// two boxes for both to be kept
	IoUThreshold float32
	// Classes restricts output to the listed class ids, nil allows all
	Classes []int
	// Agnostic suppresses across classes, when false boxes of different
	// classes never suppress each other
	Agnostic bool
	// MultiLabel emits one detection per (box, class) pair over the
	// confidence threshold instead of only the best class per box
	MultiLabel bool
	// Merge replaces each kept box with the confidence weighted mean of
	// itself and the boxes it suppressed
	Merge bool
	// Redundant requires a merged box to be supported by at least one
	// other overlapping box, otherwise the raw box is kept
	Redundant bool
	// MaxDetections is the maximum number of detections returned per image
	MaxDetections int
	// MaxCandidates is the hard cap on candidates entering suppression,
	// the excess is dropped lowest confidence first
	MaxCandidates int
	// MaxBoxOffset is the spatial offset multiplied with the class id for
	// class aware suppression.  It must exceed the box coordinate range so
	// boxes of different classes can never intersect.
	MaxBoxOffset float32
	// TimeLimit is the wall clock budget for suppressing a whole batch,
	// once exceeded remaining images yield empty results
	TimeLimit time.Duration
}

// NMSDefaultParams returns an instance of NMSParams configured with the
// standard values used for YOLO family detection heads:
// - Confidence threshold: 0.25
// - IoU threshold: 0.45
// - Maximum detections per image: 300
// - Maximum suppression candidates: 30000
// - Class offset: 4096 pixels
// - Batch time limit: 10 seconds
func NMSDefaultParams() NMSParams {
	return NMSParams{
		ConfThreshold: 0.25,
		IoUThreshold:  0.45,
		Agnostic:      false,
		MultiLabel:    false,
		Merge:         false,
		Redundant:     true,
		MaxDetections: 300,
		MaxCandidates: 30000,
		MaxBoxOffset:  4096,
		TimeLimit:     10 * time.Second,
	}
}

// Suppressor runs class aware Non-Maximum Suppression over raw detection
// tensors.  It holds no per frame state so a single instance may be shared
// across goroutines.
type Suppressor struct {
	// Params are the suppression configuration parameters
	Params NMSParams
}

// NewSuppressor returns an instance of the NMS post processor
func NewSuppressor(p NMSParams) *Suppressor {
	return &Suppressor{
		Params: p,
	}
}

// batchClock tracks the wall clock budget across a batch of images.  It is
// an explicit value passed through the suppression loop so the operation is
// reentrant, there is no shared timer state between calls.
type batchClock struct {
	start time.Time
	limit time.Duration
}

func newBatchClock(limit time.Duration) *batchClock {
	return &batchClock{
		start: time.Now(),
		limit: limit,
	}
}

// expired reports whether the accumulated elapsed time has passed the
// budget.  A zero limit disables the budget.
func (c *batchClock) expired() bool {
	return c.limit > 0 && time.Since(c.start) > c.limit
}

// Suppress runs Non-Maximum Suppression on a raw detection tensor of shape
// (batch, candidates, 4 box params + objectness + class scores) and returns
// one detection set per image in descending confidence order
func (s *Suppressor) Suppress(pred *yolopv2.Tensor) ([][]Detection, error) {
	return s.SuppressWithLabels(pred, nil)
}

// SuppressWithLabels runs Non-Maximum Suppression with optional a-priori
// labels per image.  Each label is synthesized into a full confidence one
// hot candidate row so ground truth boxes are forced into consideration.
func (s *Suppressor) SuppressWithLabels(pred *yolopv2.Tensor,
	labels [][]AprioriLabel) ([][]Detection, error) {

	batch, candidates, attrs, err := s.checkShape(pred)

	if err != nil {
		return nil, err
	}

	numClasses := attrs - 5
	output := make([][]Detection, batch)

	for i := range output {
		output[i] = []Detection{}
	}

	clock := newBatchClock(s.Params.TimeLimit)

	for xi := 0; xi < batch; xi++ {

		frame, err := pred.Frame(xi)

		if err != nil {
			return nil, err
		}

		var lbls []AprioriLabel

		if xi < len(labels) {
			lbls = labels[xi]
		}

		output[xi] = s.suppressFrame(frame, candidates, attrs, numClasses, lbls)

		// the budget is advisory, an in-progress image is never
		// interrupted but remaining images are abandoned
		if clock.expired() {
			log.Printf("WARNING: NMS time limit %v exceeded, %d image(s) skipped",
				s.Params.TimeLimit, batch-xi-1)
			break
		}
	}

	return output, nil
}

// SuppressParallel runs the same suppression as Suppress but distributes the
// batch images over NumCPU workers.  Frames share no mutable state so the
// results are identical, only the read-only params are shared.
func (s *Suppressor) SuppressParallel(pred *yolopv2.Tensor) ([][]Detection, error) {

	batch, candidates, attrs, err := s.checkShape(pred)

	if err != nil {
		return nil, err
	}

	numClasses := attrs - 5
	output := make([][]Detection, batch)

	for i := range output {
		output[i] = []Detection{}
	}

	clock := newBatchClock(s.Params.TimeLimit)
	numWorkers := runtime.NumCPU()

	if numWorkers > batch {
		numWorkers = batch
	}

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	// each worker handles frames xi = w, w+numWorkers, w+2*numWorkers
	for w := 0; w < numWorkers; w++ {
		go func(w int) {
			defer wg.Done()

			for xi := w; xi < batch; xi += numWorkers {

				if clock.expired() {
					return
				}

				frame, err := pred.Frame(xi)

				if err != nil {
					return
				}

				output[xi] = s.suppressFrame(frame, candidates, attrs,
					numClasses, nil)
			}
		}(w)
	}

	wg.Wait()

	if clock.expired() {
		log.Printf("WARNING: NMS time limit %v exceeded", s.Params.TimeLimit)
	}

	return output, nil
}

// checkShape validates the detection tensor layout.  A wrong sized last
// dimension is a fatal configuration error.
func (s *Suppressor) checkShape(pred *yolopv2.Tensor) (batch, candidates,
	attrs int, err error) {

	if pred == nil || pred.NDims() != 3 {
		return 0, 0, 0, fmt.Errorf("detection tensor must have shape (batch, candidates, attributes)")
	}

	attrs = pred.Size(2)

	if attrs < 6 {
		return 0, 0, 0, fmt.Errorf("detection tensor has %d attributes per box, need at least 6 (4 box params, objectness, 1 class score)",
			attrs)
	}

	return pred.Size(0), pred.Size(1), attrs, nil
}

// candidate is a detection candidate entering the suppression pass
type candidate struct {
	box   Box
	conf  float32
	class int
}

// suppressFrame runs the full suppression pipeline for a single image
func (s *Suppressor) suppressFrame(frame []float32, candidates, attrs,
	numClasses int, labels []AprioriLabel) []Detection {

	multiLabel := s.Params.MultiLabel && numClasses > 1

	// collect rows above the objectness threshold.  class scores are
	// multiplied by the objectness to give the final per class confidence
	cands := make([]candidate, 0, 64)

	appendRow := func(row []float32) {

		box := BoxFromCenter(row[0], row[1], row[2], row[3])
		obj := row[4]

		if multiLabel {
			// a box may yield one output per class over the threshold
			for c := 0; c < numClasses; c++ {
				conf := row[5+c] * obj

				if conf > s.Params.ConfThreshold {
					cands = append(cands, candidate{box, conf, c})
				}
			}

			return
		}

		// best class only
		bestClass := 0
		bestScore := row[5] * obj

		for c := 1; c < numClasses; c++ {
			score := row[5+c] * obj

			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}

		if bestScore > s.Params.ConfThreshold {
			cands = append(cands, candidate{box, bestScore, bestClass})
		}
	}

	for i := 0; i < candidates; i++ {
		row := frame[i*attrs : (i+1)*attrs]

		if row[4] > s.Params.ConfThreshold {
			appendRow(row)
		}
	}

	// synthesize full confidence one-hot rows for a-priori labels
	for _, l := range labels {
		row := make([]float32, attrs)
		row[0], row[1], row[2], row[3] = l.CX, l.CY, l.W, l.H
		row[4] = 1.0

		if l.Class >= 0 && l.Class < numClasses {
			row[5+l.Class] = 1.0
		}

		appendRow(row)
	}

	// optional class allow-list
	if s.Params.Classes != nil {
		allowed := make(map[int]bool, len(s.Params.Classes))

		for _, c := range s.Params.Classes {
			allowed[c] = true
		}

		kept := cands[:0]

		for _, c := range cands {
			if allowed[c.class] {
				kept = append(kept, c)
			}
		}

		cands = kept
	}

	if len(cands) == 0 {
		return []Detection{}
	}

	// sort by confidence descending, the greedy pass below relies on this
	// ordering and the candidate cap keeps the highest scores
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].conf > cands[j].conf
	})

	if s.Params.MaxCandidates > 0 && len(cands) > s.Params.MaxCandidates {
		cands = cands[:s.Params.MaxCandidates]
	}

	// class offset trick: unless agnostic, shift each box by
	// class_id * MaxBoxOffset so boxes of different classes never
	// intersect and a single suppression pass handles all classes
	offset := make([]Box, len(cands))

	for i, c := range cands {
		if s.Params.Agnostic {
			offset[i] = c.box
		} else {
			offset[i] = c.box.offset(float32(c.class) * s.Params.MaxBoxOffset)
		}
	}

	// greedy suppression over the confidence ordered candidates
	suppressed := make([]bool, len(cands))
	keep := make([]int, 0, len(cands))

	for i := range cands {

		if suppressed[i] {
			continue
		}

		keep = append(keep, i)

		for j := i + 1; j < len(cands); j++ {

			if suppressed[j] {
				continue
			}

			if IoU(offset[i], offset[j]) > s.Params.IoUThreshold {
				suppressed[j] = true
			}
		}
	}

	if s.Params.MaxDetections > 0 && len(keep) > s.Params.MaxDetections {
		keep = keep[:s.Params.MaxDetections]
	}

	merged := make(map[int]Box)

	if s.Params.Merge && len(cands) > 1 && len(cands) < 3000 {
		merged = s.mergeBoxes(cands, offset, keep)
	}

	out := make([]Detection, 0, len(keep))

	for _, i := range keep {

		box := cands[i].box

		if m, ok := merged[i]; ok {
			box = m
		}

		out = append(out, Detection{
			Box:   box,
			Conf:  cands[i].conf,
			Class: cands[i].class,
		})
	}

	return out
}

// mergeBoxes replaces each kept box with the confidence weighted mean of
// itself and every candidate it overlaps beyond the IoU threshold.  With
// Redundant set, a kept box with no other supporting overlap discards the
// merge and retains its raw coordinates.
func (s *Suppressor) mergeBoxes(cands []candidate, offset []Box,
	keep []int) map[int]Box {

	keepBoxes := make([]Box, len(keep))

	for i, k := range keep {
		keepBoxes[i] = offset[k]
	}

	iou := IoUMatrix(keepBoxes, offset)
	merged := make(map[int]Box, len(keep))

	for i, k := range keep {

		var sumW, x1, y1, x2, y2 float32
		overlaps := 0

		for j := range cands {

			if iou.At(i, j) <= float64(s.Params.IoUThreshold) {
				continue
			}

			overlaps++
			w := cands[j].conf
			sumW += w
			x1 += w * cands[j].box.X1
			y1 += w * cands[j].box.Y1
			x2 += w * cands[j].box.X2
			y2 += w * cands[j].box.Y2
		}

		if s.Params.Redundant && overlaps <= 1 {
			// no supporting box, keep the raw coordinates
			continue
		}

		if sumW > 0 {
			merged[k] = Box{x1 / sumW, y1 / sumW, x2 / sumW, y2 / sumW}
		}
	}

	return merged
}
