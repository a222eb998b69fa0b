package evalmetric

import (
	"math"
	"testing"
)

func TestRMSEPerfectPredictionIsZero(t *testing.T) {
	m := NewRMSE()
	rows := []Row{
		{Label: 1, Scores: []float64{1}},
		{Label: 2, Scores: []float64{2}},
	}
	for _, r := range rows {
		if err := m.ConsumeRow(r); err != nil {
			t.Fatalf("ConsumeRow: %v", err)
		}
	}
	epochs := m.Finish()
	if len(epochs) != 1 || math.Abs(epochs[0]) > 1e-9 {
		t.Fatalf("epochs = %v, want [0]", epochs)
	}
}

func TestRMSEMultiEpoch(t *testing.T) {
	m := NewRMSE()
	// epoch 0 score is off by 1, epoch 1 is exact.
	if err := m.ConsumeRow(Row{Label: 5, Scores: []float64{4, 5}}); err != nil {
		t.Fatalf("ConsumeRow: %v", err)
	}
	epochs := m.Finish()
	if len(epochs) != 2 {
		t.Fatalf("epochs = %v, want len 2", epochs)
	}
	if math.Abs(epochs[0]-1) > 1e-9 {
		t.Fatalf("epoch0 rmse = %v, want 1", epochs[0])
	}
	if epochs[1] != 0 {
		t.Fatalf("epoch1 rmse = %v, want 0", epochs[1])
	}
}

func TestAccuracyThresholdsAtHalf(t *testing.T) {
	m := NewAccuracy()
	rows := []Row{
		{Label: 1, Scores: []float64{0.9}},  // correct
		{Label: 0, Scores: []float64{0.1}},  // correct
		{Label: 1, Scores: []float64{0.2}},  // wrong
		{Label: 0, Scores: []float64{0.6}},  // wrong
	}
	for _, r := range rows {
		if err := m.ConsumeRow(r); err != nil {
			t.Fatalf("ConsumeRow: %v", err)
		}
	}
	epochs := m.Finish()
	if len(epochs) != 1 || epochs[0] != 0.5 {
		t.Fatalf("epochs = %v, want [0.5]", epochs)
	}
}

func TestNDCGPerfectOrderIsOne(t *testing.T) {
	m := NewNDCG(0)
	rows := []Row{
		{Label: 3, QueryID: 1, Scores: []float64{3}},
		{Label: 2, QueryID: 1, Scores: []float64{2}},
		{Label: 1, QueryID: 1, Scores: []float64{1}},
	}
	for _, r := range rows {
		if err := m.ConsumeRow(r); err != nil {
			t.Fatalf("ConsumeRow: %v", err)
		}
	}
	epochs := m.Finish()
	if len(epochs) != 1 || math.Abs(epochs[0]-1) > 1e-9 {
		t.Fatalf("epochs = %v, want [1] for a perfectly ranked query", epochs)
	}
}

func TestNDCGInvertedOrderIsBelowOne(t *testing.T) {
	m := NewNDCG(0)
	rows := []Row{
		{Label: 3, QueryID: 1, Scores: []float64{1}},
		{Label: 2, QueryID: 1, Scores: []float64{2}},
		{Label: 1, QueryID: 1, Scores: []float64{3}},
	}
	for _, r := range rows {
		if err := m.ConsumeRow(r); err != nil {
			t.Fatalf("ConsumeRow: %v", err)
		}
	}
	epochs := m.Finish()
	if len(epochs) != 1 || epochs[0] >= 1 {
		t.Fatalf("epochs = %v, want < 1 for an inverted ranking", epochs)
	}
}

func TestNDCGFlushesOnQueryBoundary(t *testing.T) {
	m := NewNDCG(0)
	rows := []Row{
		{Label: 1, QueryID: 1, Scores: []float64{1}},
		{Label: 2, QueryID: 2, Scores: []float64{2}},
	}
	for _, r := range rows {
		if err := m.ConsumeRow(r); err != nil {
			t.Fatalf("ConsumeRow: %v", err)
		}
	}
	epochs := m.Finish()
	// Each single-document query has a trivially perfect NDCG of 1.
	if len(epochs) != 1 || math.Abs(epochs[0]-1) > 1e-9 {
		t.Fatalf("epochs = %v, want [1]", epochs)
	}
}

func TestNDCGDepthCutoffName(t *testing.T) {
	m := NewNDCG(5)
	if m.Name() != "NDCG@5" {
		t.Fatalf("Name() = %q, want NDCG@5", m.Name())
	}
	if (&NDCG{Depth: 0}).Name() != "NDCG" {
		t.Fatal("depth 0 should name itself plain NDCG")
	}
}

func TestAveragingRejectsEpochCountMismatch(t *testing.T) {
	m := NewRMSE()
	if err := m.ConsumeRow(Row{Label: 1, Scores: []float64{1, 2}}); err != nil {
		t.Fatalf("ConsumeRow: %v", err)
	}
	if err := m.ConsumeRow(Row{Label: 1, Scores: []float64{1}}); err == nil {
		t.Fatal("expected an error for a mismatched epoch count")
	}
}
