// Package ingest implements spec.md §6's two input formats (TSV and SVM),
// grounded on original_source/src/tsv_reader.cpp's TsvReader/SvmReader:
// header-driven column consumers for TSV, index:value tokens with dynamic
// feature discovery for SVM, both feeding the same document.Set and
// per-feature rawfeature.Column outputs.
package ingest

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/tealtree/tealtree/internal/document"
	"github.com/tealtree/tealtree/internal/rawfeature"
	"github.com/tealtree/tealtree/internal/rng"
	"github.com/tealtree/tealtree/internal/tterr"
)

// Format selects the input parser.
type Format int

const (
	TSV Format = iota
	SVM
)

// Options configures a Read call per spec.md §6's flag table.
type Options struct {
	Format Format

	// TSV-only.
	Separator   byte   // defaults to ',' if zero
	LabelColumn string // required; defaults to "Label"
	QueryColumn string // optional; "" disables query grouping

	// SVM-only.
	QueryPrefix  string   // e.g. "qid"; "" disables query grouping
	FeatureNames []string // from --feature_names_file; nil means dynamic FeatureN naming

	ExponentiateLabel bool // label <- 2^label - 1

	// SampleRate keeps each row independently with this probability
	// (spec.md §6's --input_sample_rate; see SPEC_FULL.md's Open Question
	// decision: decided per row, not grouped by query). >= 1 keeps every
	// row; 0 keeps none.
	SampleRate float64
	RNG        rng.Source
}

// Result is one ingested file's parsed documents and per-feature columns,
// in the same order.
type Result struct {
	Docs    *document.Set
	Columns []*rawfeature.Column
}

// Read parses r according to opts.Format.
func Read(r io.Reader, opts Options) (*Result, error) {
	switch opts.Format {
	case TSV:
		return readTSV(r, opts)
	case SVM:
		return readSVM(r, opts)
	default:
		return nil, tterr.NewConfigError("unknown input format %d", opts.Format)
	}
}

func (o Options) keepRow() bool {
	if o.SampleRate >= 1 {
		return true
	}
	return o.RNG.Bernoulli(o.SampleRate)
}

func applyExponentiate(label float64, exponentiate bool) float64 {
	if !exponentiate {
		return label
	}
	return math.Exp2(label) - 1
}

func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 16<<20)
	return s
}

// readTSV implements TsvReader::read: a header line assigns each column to
// label/query/feature, then every body line is split the same way and
// matched to the header's arity exactly.
func readTSV(r io.Reader, opts Options) (*Result, error) {
	sep := opts.Separator
	if sep == 0 {
		sep = ','
	}
	labelCol := opts.LabelColumn
	if labelCol == "" {
		labelCol = "Label"
	}

	scanner := newScanner(r)
	if !scanner.Scan() {
		return nil, tterr.NewInputParseError("cannot read header line in TSV stream")
	}
	header := strings.Split(scanner.Text(), string(sep))

	labelIdx, queryIdx := -1, -1
	var featureCols []int
	var featureNames []string
	for i, name := range header {
		switch {
		case name == labelCol:
			if labelIdx != -1 {
				return nil, tterr.NewInputParseError("duplicate label column %q in TSV header", labelCol)
			}
			labelIdx = i
		case opts.QueryColumn != "" && name == opts.QueryColumn:
			if queryIdx != -1 {
				return nil, tterr.NewInputParseError("duplicate query column %q in TSV header", opts.QueryColumn)
			}
			queryIdx = i
		default:
			featureCols = append(featureCols, i)
			featureNames = append(featureNames, name)
		}
	}
	if labelIdx == -1 {
		return nil, tterr.NewInputParseError("could not find label column %q in TSV file header", labelCol)
	}

	columns := make([]*rawfeature.Column, len(featureNames))
	for i, name := range featureNames {
		columns[i] = rawfeature.NewColumn(name)
	}

	docs := document.NewSet(0)
	queryIDs := map[string]uint32{}
	var nextQueryID uint32

	lineNo := 1
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		if !opts.keepRow() {
			continue
		}

		cells := strings.Split(line, string(sep))
		if len(cells) != len(header) {
			return nil, tterr.NewInputParseError(
				"line %d: row has %d columns, header has %d", lineNo, len(cells), len(header))
		}

		label, err := strconv.ParseFloat(cells[labelIdx], 64)
		if err != nil {
			return nil, tterr.WrapInputParseError(err, fmt.Sprintf("line %d: unparseable label %q", lineNo, cells[labelIdx]))
		}
		label = applyExponentiate(label, opts.ExponentiateLabel)

		var qid uint32
		if queryIdx >= 0 {
			key := cells[queryIdx]
			id, ok := queryIDs[key]
			if !ok {
				id = nextQueryID
				queryIDs[key] = id
				nextQueryID++
			}
			qid = id
		}
		docs.Append(qid, float32(label))

		for i, ci := range featureCols {
			v, err := strconv.ParseFloat(cells[ci], 64)
			if err != nil {
				return nil, tterr.WrapInputParseError(err,
					fmt.Sprintf("line %d: feature %q unparseable value %q", lineNo, featureNames[i], cells[ci]))
			}
			if err := columns[i].Append(v); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, tterr.WrapInputParseError(err, "reading TSV stream")
	}
	return &Result{Docs: docs, Columns: columns}, nil
}

// readSVM implements SvmReader::read/read_row: `label [qid:Q] idx:val ...`
// tokens, with features discovered dynamically (named FeatureN) unless
// opts.FeatureNames pins a static, fixed-size feature list.
func readSVM(r io.Reader, opts Options) (*Result, error) {
	static := len(opts.FeatureNames) > 0
	var columns []*rawfeature.Column
	if static {
		columns = make([]*rawfeature.Column, len(opts.FeatureNames))
		for i, name := range opts.FeatureNames {
			columns[i] = rawfeature.NewColumn(name)
		}
	}

	docs := document.NewSet(0)
	queryIDs := map[string]uint32{}
	var nextQueryID uint32
	nDocs := 0

	scanner := newScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !opts.keepRow() {
			continue
		}

		fields := strings.Fields(line)
		labelTok := fields[0]
		if strings.HasPrefix(labelTok, "#") {
			continue
		}
		label, err := strconv.ParseFloat(labelTok, 64)
		if err != nil {
			return nil, tterr.WrapInputParseError(err, fmt.Sprintf("line %d: unparseable label %q", lineNo, labelTok))
		}
		label = applyExponentiate(label, opts.ExponentiateLabel)

		rowVals := map[int]float64{}
		maxIdx := -1
		var qidStr string
		haveQid := false

		for _, tok := range fields[1:] {
			if strings.HasPrefix(tok, "#") {
				break
			}
			parts := strings.SplitN(tok, ":", 2)
			if len(parts) != 2 {
				return nil, tterr.NewInputParseError("line %d: invalid SVM token %q (missing ':')", lineNo, tok)
			}
			prefix, value := parts[0], parts[1]
			if opts.QueryPrefix != "" && prefix == opts.QueryPrefix {
				qidStr = value
				haveQid = true
				continue
			}
			idx, err := strconv.Atoi(prefix)
			if err != nil {
				return nil, tterr.NewInputParseError("line %d: invalid SVM feature index %q", lineNo, prefix)
			}
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, tterr.WrapInputParseError(err, fmt.Sprintf("line %d: feature %d unparseable value %q", lineNo, idx, value))
			}
			rowVals[idx] = v
			if idx > maxIdx {
				maxIdx = idx
			}
		}
		if opts.QueryPrefix != "" && !haveQid {
			return nil, tterr.NewInputParseError("line %d: unknown qid: %q prefix not found in row", lineNo, opts.QueryPrefix)
		}

		if static {
			if maxIdx >= len(columns) {
				return nil, tterr.NewInputParseError("line %d: feature index %d exceeds declared feature count %d", lineNo, maxIdx, len(columns))
			}
		} else {
			for maxIdx >= len(columns) {
				name := fmt.Sprintf("Feature%d", len(columns))
				col := rawfeature.NewColumn(name)
				for k := 0; k < nDocs; k++ {
					_ = col.Append(0)
				}
				columns = append(columns, col)
			}
		}

		var qid uint32
		if opts.QueryPrefix != "" {
			id, ok := queryIDs[qidStr]
			if !ok {
				id = nextQueryID
				queryIDs[qidStr] = id
				nextQueryID++
			}
			qid = id
		}
		docs.Append(qid, float32(label))
		for i, col := range columns {
			if err := col.Append(rowVals[i]); err != nil {
				return nil, err
			}
		}
		nDocs++
	}
	if err := scanner.Err(); err != nil {
		return nil, tterr.WrapInputParseError(err, "reading SVM stream")
	}
	return &Result{Docs: docs, Columns: columns}, nil
}
