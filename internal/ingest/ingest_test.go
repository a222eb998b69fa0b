package ingest

import (
	"strings"
	"testing"

	"github.com/tealtree/tealtree/internal/rng"
)

func TestReadTSVBasic(t *testing.T) {
	data := "Label,Query,x,y\n1,q1,0.5,1\n0,q1,1.5,2\n1,q2,2.5,3\n"
	res, err := Read(strings.NewReader(data), Options{
		Format:      TSV,
		Separator:   ',',
		LabelColumn: "Label",
		QueryColumn: "Query",
		SampleRate:  1,
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Docs.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", res.Docs.Len())
	}
	if len(res.Columns) != 2 || res.Columns[0].Name() != "x" || res.Columns[1].Name() != "y" {
		t.Fatalf("columns mismatch: %+v", res.Columns)
	}
	if res.Docs.At(0).QueryID != res.Docs.At(1).QueryID {
		t.Fatalf("rows sharing query %q should share a QueryID", "q1")
	}
	if res.Docs.At(0).QueryID == res.Docs.At(2).QueryID {
		t.Fatal("rows with distinct query strings should get distinct QueryIDs")
	}
	if res.Docs.At(0).TargetScore != 1 {
		t.Fatalf("doc0 label = %v, want 1", res.Docs.At(0).TargetScore)
	}
	if res.Columns[0].Values()[1] != 1.5 {
		t.Fatalf("column x row 1 = %v, want 1.5", res.Columns[0].Values()[1])
	}
}

func TestReadTSVMissingLabelColumnIsInputParseError(t *testing.T) {
	data := "A,B\n1,2\n"
	_, err := Read(strings.NewReader(data), Options{Format: TSV, Separator: ',', LabelColumn: "Label", SampleRate: 1})
	if err == nil || !strings.Contains(err.Error(), "input parse error") {
		t.Fatalf("err = %v, want an input parse error", err)
	}
}

func TestReadTSVArityMismatchIsInputParseError(t *testing.T) {
	data := "Label,x\n1,2\n0,3,4\n"
	_, err := Read(strings.NewReader(data), Options{Format: TSV, Separator: ',', LabelColumn: "Label", SampleRate: 1})
	if err == nil || !strings.Contains(err.Error(), "input parse error") {
		t.Fatalf("err = %v, want an input parse error", err)
	}
}

func TestReadTSVEmptyLinesIgnored(t *testing.T) {
	data := "Label,x\n1,2\n\n0,3\n"
	res, err := Read(strings.NewReader(data), Options{Format: TSV, Separator: ',', LabelColumn: "Label", SampleRate: 1})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Docs.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (blank line skipped)", res.Docs.Len())
	}
}

func TestReadTSVExponentiateLabel(t *testing.T) {
	data := "Label,x\n3,1\n"
	res, err := Read(strings.NewReader(data), Options{
		Format: TSV, Separator: ',', LabelColumn: "Label", SampleRate: 1, ExponentiateLabel: true,
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got, want := res.Docs.At(0).TargetScore, float32(7); got != want {
		t.Fatalf("label = %v, want %v (2^3 - 1)", got, want)
	}
}

func TestReadSVMBasic(t *testing.T) {
	data := "1 qid:10 0:1.5 2:3.0\n0 qid:10 1:2.0\n1 qid:11 0:4.0\n"
	res, err := Read(strings.NewReader(data), Options{
		Format: SVM, QueryPrefix: "qid", SampleRate: 1,
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Docs.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", res.Docs.Len())
	}
	if len(res.Columns) != 3 {
		t.Fatalf("len(Columns) = %d, want 3 (indices 0,1,2 seen)", len(res.Columns))
	}
	if res.Columns[0].Name() != "Feature0" || res.Columns[1].Name() != "Feature1" {
		t.Fatalf("dynamic feature names mismatch: %+v", res.Columns)
	}
	// doc0: index 1 missing -> defaults to 0.
	if res.Columns[1].Values()[0] != 0 {
		t.Fatalf("doc0 Feature1 = %v, want 0 (missing index defaults to 0)", res.Columns[1].Values()[0])
	}
	if res.Docs.At(0).QueryID != res.Docs.At(1).QueryID {
		t.Fatal("rows sharing qid:10 should share a QueryID")
	}
}

func TestReadSVMInvalidTokenIsInputParseError(t *testing.T) {
	data := "1 badtoken\n"
	_, err := Read(strings.NewReader(data), Options{Format: SVM, SampleRate: 1})
	if err == nil || !strings.Contains(err.Error(), "input parse error") {
		t.Fatalf("err = %v, want an input parse error", err)
	}
}

func TestReadSVMMissingQidIsInputParseError(t *testing.T) {
	data := "1 0:1.0\n"
	_, err := Read(strings.NewReader(data), Options{Format: SVM, QueryPrefix: "qid", SampleRate: 1})
	if err == nil || !strings.Contains(err.Error(), "input parse error") {
		t.Fatalf("err = %v, want an input parse error", err)
	}
}

func TestReadSVMStaticFeatureNamesRejectsOutOfRangeIndex(t *testing.T) {
	data := "1 5:1.0\n"
	_, err := Read(strings.NewReader(data), Options{Format: SVM, FeatureNames: []string{"a", "b"}, SampleRate: 1})
	if err == nil || !strings.Contains(err.Error(), "input parse error") {
		t.Fatalf("err = %v, want an input parse error", err)
	}
}

func TestSampleRateLessThanOneDropsSomeRows(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("Label,x\n")
	for i := 0; i < 2000; i++ {
		sb.WriteString("1,1\n")
	}
	res, err := Read(strings.NewReader(sb.String()), Options{
		Format: TSV, Separator: ',', LabelColumn: "Label", SampleRate: 0.5, RNG: rng.NewFromSeed(42),
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Docs.Len() == 0 || res.Docs.Len() == 2000 {
		t.Fatalf("Len() = %d, want roughly half of 2000", res.Docs.Len())
	}
}
