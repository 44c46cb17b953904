package postprocess

import (
	"math"
	"testing"
	"time"

	yolopv2 "github.com/ZAP-FYP/YOLOPv2-1D-Coordinates"
)

// buildPred assembles a raw detection tensor from per image candidate rows.
// every frame must carry the same number of rows, each row is
// (cx, cy, w, h, objectness, class scores...)
func buildPred(t *testing.T, attrs int, frames ...[][]float32) *yolopv2.Tensor {

	t.Helper()

	candidates := len(frames[0])
	data := make([]float32, 0, len(frames)*candidates*attrs)

	for _, frame := range frames {

		if len(frame) != candidates {
			t.Fatalf("frames must have equal candidate counts")
		}

		for _, row := range frame {

			if len(row) != attrs {
				t.Fatalf("row has %d attributes, expected %d", len(row), attrs)
			}

			data = append(data, row...)
		}
	}

	pred, err := yolopv2.NewTensor(data, len(frames), candidates, attrs)

	if err != nil {
		t.Fatalf("building prediction tensor: %v", err)
	}

	return pred
}

func TestSuppressOverlappingSameClass(t *testing.T) {

	// corner boxes (0,0,10,10) conf 0.9 and (1,1,11,11) conf 0.8 overlap
	// with IoU 0.68, only the first survives at threshold 0.5
	pred := buildPred(t, 6, [][]float32{
		{5, 5, 10, 10, 0.9, 1.0},
		{6, 6, 10, 10, 0.8, 1.0},
	})

	params := NMSDefaultParams()
	params.IoUThreshold = 0.5

	s := NewSuppressor(params)
	out, err := s.Suppress(pred)

	if err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}

	if len(out) != 1 {
		t.Fatalf("expected 1 image result, got %d", len(out))
	}

	if len(out[0]) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(out[0]))
	}

	det := out[0][0]

	if !near(det.Box.X1, 0) || !near(det.Box.Y1, 0) ||
		!near(det.Box.X2, 10) || !near(det.Box.Y2, 10) {
		t.Errorf("wrong surviving box: %+v", det.Box)
	}

	if !near(det.Conf, 0.9) || det.Class != 0 {
		t.Errorf("wrong confidence/class: %f / %d", det.Conf, det.Class)
	}
}

func TestSuppressClassIsolation(t *testing.T) {

	// two maximally overlapping boxes of different classes
	frames := [][]float32{
		{5, 5, 10, 10, 0.9, 1.0, 0.0},
		{5, 5, 10, 10, 0.8, 0.0, 1.0},
	}

	params := NMSDefaultParams()

	s := NewSuppressor(params)
	out, err := s.Suppress(buildPred(t, 7, frames))

	if err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}

	if len(out[0]) != 2 {
		t.Fatalf("class aware suppression kept %d detections, expected both", len(out[0]))
	}

	params.Agnostic = true
	s = NewSuppressor(params)
	out, err = s.Suppress(buildPred(t, 7, frames))

	if err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}

	if len(out[0]) != 1 {
		t.Fatalf("agnostic suppression kept %d detections, expected 1", len(out[0]))
	}

	if !near(out[0][0].Conf, 0.9) {
		t.Errorf("agnostic suppression kept wrong box, conf %f", out[0][0].Conf)
	}
}

func TestSuppressIdempotence(t *testing.T) {

	pred := buildPred(t, 7, [][]float32{
		{5, 5, 10, 10, 0.9, 1.0, 0.0},
		{6, 6, 10, 10, 0.8, 1.0, 0.0},
		{50, 50, 20, 10, 0.7, 0.0, 1.0},
		{200, 100, 30, 30, 0.6, 1.0, 0.0},
	})

	s := NewSuppressor(NMSDefaultParams())
	first, err := s.Suppress(pred)

	if err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}

	// rebuild a prediction tensor from the survivors and suppress again
	rows := make([][]float32, 0, len(first[0]))

	for _, det := range first[0] {
		cx, cy, w, h := det.Box.Center()
		row := make([]float32, 7)
		row[0], row[1], row[2], row[3] = cx, cy, w, h
		row[4] = det.Conf
		row[5+det.Class] = 1.0
		rows = append(rows, row)
	}

	second, err := s.Suppress(buildPred(t, 7, rows))

	if err != nil {
		t.Fatalf("second Suppress failed: %v", err)
	}

	if len(second[0]) != len(first[0]) {
		t.Fatalf("suppression is not idempotent: %d then %d detections",
			len(first[0]), len(second[0]))
	}

	for i := range first[0] {
		if first[0][i].Class != second[0][i].Class {
			t.Errorf("detection %d changed class between runs", i)
		}

		if math.Abs(float64(first[0][i].Box.X1-second[0][i].Box.X1)) > 1e-4 {
			t.Errorf("detection %d changed box between runs", i)
		}
	}
}

func TestSuppressEmptyAndMalformed(t *testing.T) {

	// all rows below the confidence threshold is not an error
	pred := buildPred(t, 6, [][]float32{
		{5, 5, 10, 10, 0.1, 1.0},
	})

	s := NewSuppressor(NMSDefaultParams())
	out, err := s.Suppress(pred)

	if err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}

	if len(out[0]) != 0 {
		t.Errorf("expected empty detection set, got %d", len(out[0]))
	}

	// too few attributes per box is a fatal configuration error
	bad, err := yolopv2.NewTensor(make([]float32, 2*3*5), 2, 3, 5)

	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}

	if _, err := s.Suppress(bad); err == nil {
		t.Errorf("expected shape error for 5 attribute rows")
	}

	// a 2D tensor is also rejected
	flat, _ := yolopv2.NewTensor(make([]float32, 12), 2, 6)

	if _, err := s.Suppress(flat); err == nil {
		t.Errorf("expected shape error for 2D tensor")
	}
}

func TestSuppressMultiLabel(t *testing.T) {

	// one box scoring high on both classes
	pred := buildPred(t, 7, [][]float32{
		{5, 5, 10, 10, 0.9, 0.9, 0.8},
	})

	params := NMSDefaultParams()
	params.MultiLabel = true

	s := NewSuppressor(params)
	out, err := s.Suppress(pred)

	if err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}

	if len(out[0]) != 2 {
		t.Fatalf("multi label emitted %d detections, expected 2", len(out[0]))
	}

	if out[0][0].Class == out[0][1].Class {
		t.Errorf("multi label emitted duplicate classes")
	}
}

func TestSuppressClassFilter(t *testing.T) {

	pred := buildPred(t, 7, [][]float32{
		{5, 5, 10, 10, 0.9, 1.0, 0.0},
		{50, 50, 10, 10, 0.8, 0.0, 1.0},
	})

	params := NMSDefaultParams()
	params.Classes = []int{1}

	s := NewSuppressor(params)
	out, err := s.Suppress(pred)

	if err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}

	if len(out[0]) != 1 || out[0][0].Class != 1 {
		t.Fatalf("class filter failed, got %+v", out[0])
	}
}

func TestSuppressAprioriLabels(t *testing.T) {

	// no candidate passes the confidence threshold, only the injected
	// ground truth box comes out, at full confidence
	pred := buildPred(t, 7, [][]float32{
		{5, 5, 10, 10, 0.1, 1.0, 0.0},
	})

	labels := [][]AprioriLabel{
		{{Class: 1, CX: 100, CY: 100, W: 20, H: 20}},
	}

	s := NewSuppressor(NMSDefaultParams())
	out, err := s.SuppressWithLabels(pred, labels)

	if err != nil {
		t.Fatalf("SuppressWithLabels failed: %v", err)
	}

	if len(out[0]) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(out[0]))
	}

	det := out[0][0]

	if det.Class != 1 || !near(det.Conf, 1.0) {
		t.Errorf("apriori label came out as class %d conf %f", det.Class, det.Conf)
	}

	if !near(det.Box.X1, 90) || !near(det.Box.Y2, 110) {
		t.Errorf("apriori label box wrong: %+v", det.Box)
	}
}

func TestSuppressMerge(t *testing.T) {

	pred := buildPred(t, 6, [][]float32{
		{5, 5, 10, 10, 0.9, 1.0},
		{6, 6, 10, 10, 0.8, 1.0},
	})

	params := NMSDefaultParams()
	params.IoUThreshold = 0.5
	params.Merge = true

	s := NewSuppressor(params)
	out, err := s.Suppress(pred)

	if err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}

	if len(out[0]) != 1 {
		t.Fatalf("expected 1 merged detection, got %d", len(out[0]))
	}

	// confidence weighted mean of x1: (0.9*0 + 0.8*1) / 1.7
	expectedX1 := float32(0.8 / 1.7)

	if math.Abs(float64(out[0][0].Box.X1-expectedX1)) > 1e-4 {
		t.Errorf("merged x1 is %f, expected %f", out[0][0].Box.X1, expectedX1)
	}
}

func TestSuppressTimeBudget(t *testing.T) {

	frame := [][]float32{
		{5, 5, 10, 10, 0.9, 1.0},
	}

	params := NMSDefaultParams()
	params.TimeLimit = time.Nanosecond

	s := NewSuppressor(params)
	out, err := s.Suppress(buildPred(t, 6, frame, frame, frame))

	if err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}

	// the in-progress image completes, remaining images are abandoned
	// with empty results once the budget expires
	if len(out[0]) != 1 {
		t.Errorf("first image should be processed, got %d detections", len(out[0]))
	}

	if len(out[1]) != 0 || len(out[2]) != 0 {
		t.Errorf("expected remaining images to yield empty results")
	}
}

func TestSuppressParallelMatchesSequential(t *testing.T) {

	frameA := [][]float32{
		{5, 5, 10, 10, 0.9, 1.0, 0.0},
		{6, 6, 10, 10, 0.8, 1.0, 0.0},
	}
	frameB := [][]float32{
		{50, 50, 20, 10, 0.7, 0.0, 1.0},
		{200, 100, 30, 30, 0.6, 1.0, 0.0},
	}

	s := NewSuppressor(NMSDefaultParams())

	seq, err := s.Suppress(buildPred(t, 7, frameA, frameB))

	if err != nil {
		t.Fatalf("Suppress failed: %v", err)
	}

	par, err := s.SuppressParallel(buildPred(t, 7, frameA, frameB))

	if err != nil {
		t.Fatalf("SuppressParallel failed: %v", err)
	}

	if len(seq) != len(par) {
		t.Fatalf("batch sizes differ: %d vs %d", len(seq), len(par))
	}

	for xi := range seq {

		if len(seq[xi]) != len(par[xi]) {
			t.Fatalf("image %d: %d vs %d detections", xi, len(seq[xi]), len(par[xi]))
		}

		for i := range seq[xi] {
			if seq[xi][i] != par[xi][i] {
				t.Errorf("image %d detection %d differs: %+v vs %+v",
					xi, i, seq[xi][i], par[xi][i])
			}
		}
	}
}
