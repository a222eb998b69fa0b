// Command tealtree is TealTree's entrypoint: it wires internal/cliopts,
// internal/ingest, internal/trainer, internal/evalmetric and
// internal/ensemble together into the two modes spec.md §6 describes,
// --train and --evaluate, the way the teacher's own cmd/ binaries wire
// their flag-parsed config into a single run function.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/tealtree/tealtree/internal/bucketize"
	"github.com/tealtree/tealtree/internal/cliopts"
	"github.com/tealtree/tealtree/internal/costfn"
	"github.com/tealtree/tealtree/internal/ensemble"
	"github.com/tealtree/tealtree/internal/evalmetric"
	"github.com/tealtree/tealtree/internal/feature"
	"github.com/tealtree/tealtree/internal/gbtree"
	"github.com/tealtree/tealtree/internal/ingest"
	"github.com/tealtree/tealtree/internal/rawfeature"
	"github.com/tealtree/tealtree/internal/rng"
	"github.com/tealtree/tealtree/internal/trainer"
	"github.com/tealtree/tealtree/internal/ttlog"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "TealTree failed with exception: %s\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts, err := cliopts.Parse(args)
	if err != nil {
		return err
	}

	// Init panics if called twice; main() only ever calls run() once, but
	// guard it anyway so package-main tests can drive run() repeatedly
	// in the same process.
	if !ttlog.IsInitialized() {
		defer ttlog.Init(ttlog.Options{Level: opts.LogLevel, LogFile: opts.LogFile})()
	}

	switch opts.Mode {
	case cliopts.ModeTrain:
		return runTrain(opts)
	case cliopts.ModeEvaluate:
		return runEvaluate(opts)
	default:
		return fmt.Errorf("unreachable: unknown mode %v", opts.Mode)
	}
}

// openInput opens --input_file or runs --input_pipe, returning a reader
// and a cleanup function the caller must defer.
func openInput(opts *cliopts.Options) (io.Reader, func() error, error) {
	if opts.InputFile != "" {
		f, err := os.Open(opts.InputFile)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
	cmd := exec.Command("sh", "-c", opts.InputPipe)
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return stdout, cmd.Wait, nil
}

func readFeatureNamesFile(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	return names, scanner.Err()
}

func newRNGSource(seed uint64) rng.Source {
	if seed == 0 {
		return rng.New()
	}
	return rng.NewFromSeed(seed)
}

func ingestOptions(opts *cliopts.Options) (ingest.Options, error) {
	format := ingest.TSV
	if opts.InputFormat == cliopts.FormatSVM {
		format = ingest.SVM
	}
	featureNames, err := readFeatureNamesFile(opts.FeatureNamesFile)
	if err != nil {
		return ingest.Options{}, err
	}
	return ingest.Options{
		Format:            format,
		Separator:         opts.TSVSeparator,
		LabelColumn:       opts.TSVLabel,
		QueryColumn:       opts.TSVQuery,
		QueryPrefix:       opts.SVMQuery,
		FeatureNames:      featureNames,
		ExponentiateLabel: opts.ExponentiateLabel,
		SampleRate:        opts.InputSampleRate,
		RNG:               newRNGSource(opts.RandomSeed),
	}, nil
}

// buildFeatures bucketizes every ingested column and wraps it in the
// encoding spec.md §3/§4.4 selects by sparsity and --sparse_feature_version.
func buildFeatures(columns []*rawfeature.Column, opts *cliopts.Options) ([]feature.Feature, []gbtree.FeatureMeta, error) {
	maxBuckets := 1 << uint(opts.BucketMaxBits)
	features := make([]feature.Feature, len(columns))
	meta := make([]gbtree.FeatureMeta, len(columns))

	for i, col := range columns {
		vals := col.Values()
		tbl, err := bucketize.Build(col.Name(), vals, maxBuckets)
		if err != nil {
			return nil, nil, err
		}
		meta[i] = gbtree.FeatureMeta{Name: col.Name(), Kind: col.Kind().String()}

		if tbl.Sparsity <= opts.SparsityThreshold {
			features[i] = feature.NewDense(col.Name(), tbl, vals)
			continue
		}

		codes := make([]uint64, len(vals))
		for j, v := range vals {
			codes[j] = uint64(tbl.BucketOf(v))
		}

		useV1 := opts.SparseFeatureVer == cliopts.SparseV1
		if opts.SparseFeatureVer == cliopts.SparseAuto {
			useV1 = opts.NLeaves < 100
		}
		if useV1 {
			features[i] = feature.NewSparseV1(col.Name(), tbl, codes)
		} else {
			features[i] = feature.NewSparseV2(col.Name(), tbl, codes, 0)
		}
	}
	return features, meta, nil
}

func buildCostFunction(opts *cliopts.Options) (costfn.Function, error) {
	newton := opts.Step == cliopts.StepNewton
	switch opts.CostFn.Name {
	case "regression":
		return &costfn.LinearRegression{Newton: newton}, nil
	case "binary_classification":
		return &costfn.LogisticRegression{Newton: newton}, nil
	case "lambda_rank":
		return &costfn.LambdaRank{Newton: newton, NdcgAt: opts.CostFn.LambdaRankCutoff}, nil
	default:
		return nil, fmt.Errorf("unreachable: unknown cost function %q", opts.CostFn.Name)
	}
}

func runTrain(opts *cliopts.Options) error {
	r, closeFn, err := openInput(opts)
	if err != nil {
		return err
	}

	iopts, err := ingestOptions(opts)
	if err != nil {
		closeFn()
		return err
	}
	result, err := ingest.Read(r, iopts)
	if cerr := closeFn(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	features, meta, err := buildFeatures(result.Columns, opts)
	if err != nil {
		return err
	}

	costFn, err := buildCostFunction(opts)
	if err != nil {
		return err
	}

	tr := trainer.New(result.Docs, features, meta, costFn, trainer.Options{
		NTrees:         opts.NTrees,
		NLeaves:        opts.NLeaves,
		MaxDepth:       opts.MaxDepth,
		MinNodeDocs:    opts.MinNodeDocs,
		MinNodeHessian: opts.MinNodeHessian,
		NewtonStep:     opts.Step == cliopts.StepNewton,
		Spread:         opts.Spread,
		Lambda:         opts.RegularizationLambda,
		LearningRate:   opts.LearningRate,
		BaseScore:      opts.BaseScore,
		DebugInfo:      opts.TreeDebugInfo,
		NThreads:       opts.NThreads,
	})

	ens, err := tr.Train(context.Background())
	if err != nil {
		return err
	}

	out, err := os.Create(opts.OutputTree)
	if err != nil {
		return err
	}
	defer out.Close()
	return ensemble.Save(out, ens)
}

// columnLookup resolves an ensemble.Predict featureIdx to the evaluated
// document's value for that named feature, by name rather than by
// ingest-time column position (evaluate-time input columns need not be
// ordered the same way training-time columns were).
type columnLookup struct {
	cols    map[string]*rawfeature.Column
	feats   []gbtree.FeatureMeta
	docIdx  int
}

func (l columnLookup) value(featureIdx int) float64 {
	name := l.feats[featureIdx].Name
	col, ok := l.cols[name]
	if !ok {
		return 0
	}
	return col.Values()[l.docIdx]
}

func runEvaluate(opts *cliopts.Options) error {
	treeFile, err := os.Open(opts.InputTree)
	if err != nil {
		return err
	}
	ens, err := ensemble.Load(treeFile)
	treeFile.Close()
	if err != nil {
		return err
	}

	r, closeFn, err := openInput(opts)
	if err != nil {
		return err
	}
	iopts, err := ingestOptions(opts)
	if err != nil {
		closeFn()
		return err
	}
	result, err := ingest.Read(r, iopts)
	if cerr := closeFn(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	byName := make(map[string]*rawfeature.Column, len(result.Columns))
	for _, c := range result.Columns {
		byName[c.Name()] = c
	}

	epochTreeCounts := epochBoundaries(len(ens.Trees), opts.OutputEpochs)

	metric, err := buildMetric(opts.EvalMetric)
	if err != nil {
		return err
	}

	var predictionsOut *os.File
	if opts.OutputPredictions != "" {
		predictionsOut, err = os.Create(opts.OutputPredictions)
		if err != nil {
			return err
		}
		defer predictionsOut.Close()
	}

	n := result.Docs.Len()
	for i := 0; i < n; i++ {
		doc := result.Docs.At(i)
		lookup := columnLookup{cols: byName, feats: ens.Features, docIdx: i}

		scores := make([]float64, len(epochTreeCounts))
		var cumulative float64
		treesDone := 0
		for e, cutoff := range epochTreeCounts {
			for ; treesDone < cutoff; treesDone++ {
				cumulative += ens.Trees[treesDone].Predict(lookup.value)
			}
			scores[e] = cumulative
		}

		if err := metric.ConsumeRow(evalmetric.Row{
			Label:   float64(doc.TargetScore),
			QueryID: doc.QueryID,
			Scores:  scores,
		}); err != nil {
			return err
		}

		if predictionsOut != nil {
			fmt.Fprintf(predictionsOut, "%v\n", scores[len(scores)-1])
		}
	}

	for i, v := range metric.Finish() {
		fmt.Printf("%s[%d]: %v\n", metric.Name(), i, v)
	}
	return nil
}

// epochBoundaries returns the cumulative tree counts at which a score
// should be emitted: every outputEpochs trees, plus always the final
// count. outputEpochs <= 0 means emit only the final, all-trees score.
func epochBoundaries(nTrees, outputEpochs int) []int {
	if outputEpochs <= 0 {
		return []int{nTrees}
	}
	var bounds []int
	for c := outputEpochs; c < nTrees; c += outputEpochs {
		bounds = append(bounds, c)
	}
	if len(bounds) == 0 || bounds[len(bounds)-1] != nTrees {
		bounds = append(bounds, nTrees)
	}
	return bounds
}

func buildMetric(m cliopts.Metric) (evalmetric.Metric, error) {
	switch m.Name {
	case "rmse":
		return evalmetric.NewRMSE(), nil
	case "accuracy":
		return evalmetric.NewAccuracy(), nil
	case "ndcg":
		return evalmetric.NewNDCG(m.NDCGDepth), nil
	default:
		return nil, fmt.Errorf("unreachable: unknown metric %q", m.Name)
	}
}
