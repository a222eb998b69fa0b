// Package cliopts parses and validates the command-line flags in spec.md
// §6: a flat flag set (no subcommands) selecting --train or --evaluate
// mode, layered on github.com/peterbourgon/ff/v3 the way the teacher's
// cmd/zoekt-sourcegraph-indexserver draws on the same dependency family
// (there via ffcli subcommands; here via the base ff.Parse, since
// TealTree has none), giving TEALTREE_* env var overrides for every flag
// for free. No config-file flag is registered.
package cliopts

import (
	"flag"
	"strconv"
	"strings"

	"github.com/peterbourgon/ff/v3"

	"github.com/tealtree/tealtree/internal/rawfeature"
	"github.com/tealtree/tealtree/internal/split"
	"github.com/tealtree/tealtree/internal/tterr"
)

// Mode selects the run's operating mode (spec.md §6: "Two operating
// modes selected by mutually exclusive flags --train / --evaluate").
type Mode int

const (
	ModeTrain Mode = iota + 1
	ModeEvaluate
)

// InputFormat selects the ingest parser.
type InputFormat int

const (
	FormatTSV InputFormat = iota + 1
	FormatSVM
)

// SparseFeatureVersion selects the sparse feature storage strategy.
type SparseFeatureVersion int

const (
	SparseAuto SparseFeatureVersion = iota
	SparseV1
	SparseV2
)

// CostFunction names the boosting objective; LambdaRankCutoff holds the
// @N truncation depth when Name == "lambda_rank".
type CostFunction struct {
	Name             string
	LambdaRankCutoff int
}

// Step selects the leaf-value estimator.
type Step int

const (
	StepGradient Step = iota + 1
	StepNewton
)

// Metric names an evaluation metric; NDCGDepth holds the @N depth when
// Name == "ndcg".
type Metric struct {
	Name      string
	NDCGDepth int
}

// Options is every flag in spec.md §6, validated and enum-decoded.
type Options struct {
	Mode Mode

	// Ingest.
	InputFile         string
	InputPipe         string
	InputFormat       InputFormat
	TSVSeparator      byte
	TSVLabel          string
	TSVQuery          string
	SVMQuery          string
	FeatureNamesFile  string
	DefaultRawType    rawfeature.Kind
	ExponentiateLabel bool
	InputSampleRate   float64

	// Bucketize / feature storage.
	BucketMaxBits       int
	SparsityThreshold   float64
	SparseFeatureVer    SparseFeatureVersion
	InitialTailSize     float64

	// Boosting.
	CostFn             CostFunction
	Step               Step
	Spread             split.SpreadKind
	RegularizationLambda float64
	LearningRate       float64
	NTrees             int
	NLeaves            int
	MaxDepth           int
	MinNodeDocs        int
	MinNodeHessian     float64
	BaseScore          float64
	TreeDebugInfo      bool

	// Resource model.
	RandomSeed uint64
	NThreads   int

	// Ambient: logging (internal/ttlog), not part of spec.md §6's table
	// but carried per SPEC_FULL.md's AMBIENT STACK section.
	LogLevel string
	LogFile  string

	// Train mode.
	OutputTree string

	// Evaluate mode.
	InputTree        string
	EvalMetric       Metric
	OutputEpochs     int
	OutputPredictions string
}

// Parse parses args (normally os.Args[1:]) into validated Options.
// Every failure is a tterr.ConfigError per spec.md §7.
func Parse(args []string) (*Options, error) {
	fs := flag.NewFlagSet("tealtree", flag.ContinueOnError)

	train := fs.Bool("train", false, "train a new ensemble")
	evaluate := fs.Bool("evaluate", false, "evaluate an existing ensemble")

	inputFile := fs.String("input_file", "", "ingest source: a path")
	inputPipe := fs.String("input_pipe", "", "ingest source: a shell command whose stdout is read")
	inputFormat := fs.String("input_format", "tsv", "input format: tsv, svm")
	tsvSeparator := fs.String("tsv_separator", ",", "TSV column separator character")
	tsvLabel := fs.String("tsv_label", "Label", "TSV label column name")
	tsvQuery := fs.String("tsv_query", "", "TSV query column name (optional)")
	svmQuery := fs.String("svm_query", "", "SVM query token prefix, e.g. qid (optional)")
	featureNamesFile := fs.String("feature_names_file", "", "SVM: path mapping feature index -> name")
	defaultRawType := fs.String("default_raw_feature_type", "uint8", "initial raw feature parse type (validated only; every column starts at uint8 and widens as needed)")
	exponentiateLabel := fs.Bool("exponentiate_label", false, "label <- 2^label - 1")
	inputSampleRate := fs.Float64("input_sample_rate", 1.0, "keep each row independently with this probability")

	bucketMaxBits := fs.Int("bucket_max_bits", 8, "max bucket index bits, 1..16")
	sparsityThreshold := fs.Float64("sparsity_threshold", 0.3, "dense storage if sparsity <= threshold, 0..1")
	sparseFeatureVersion := fs.String("sparse_feature_version", "auto", "sparse feature storage: v1, v2, auto")
	initialTailSize := fs.Float64("initial_tail_size", 0.1, "initial shard tail fraction, 0..1 (validated only; sparse v2 shards use a fixed 0.1 fraction)")

	costFunction := fs.String("cost_function", "regression", "regression, binary_classification, lambda_rank[@N]")
	step := fs.String("step", "gradient", "gradient, newton")
	exponentiateSpread := fs.String("spread", "linear", "linear, quadratic")
	regularizationLambda := fs.Float64("regularization_lambda", 0, "split-score L2 regularization")
	learningRate := fs.Float64("learning_rate", 0.1, "per-tree shrinkage")
	nTrees := fs.Int("n_trees", 100, "number of boosting rounds")
	nLeaves := fs.Int("n_leaves", 32, "max leaves per tree")
	maxDepth := fs.Int("max_depth", 0, "max tree depth; 0 means unbounded")
	minNodeDocs := fs.Int("min_node_docs", 1, "min documents per leaf (gradient step)")
	minNodeHessian := fs.Float64("min_node_hessian", 0, "min hessian sum per leaf (newton step)")
	baseScore := fs.Float64("base_score", 0, "optional initial-tree constant added before the first real tree")
	treeDebugInfo := fs.Bool("tree_debug_info", false, "record per-node n_docs/spread/split debug_info")

	randomSeed := fs.Uint64("random_seed", 0, "0 means OS entropy; nonzero is deterministic")
	nThreads := fs.Int("n_threads", 0, "worker pool size; 0 means runtime.NumCPU()")

	logLevel := fs.String("log_level", "info", "trace, debug, info, warn, error")
	logFile := fs.String("log_file", "", "path to a rotating log file; empty means stderr")

	outputTree := fs.String("output_tree", "", "train: output ensemble JSON path")

	inputTree := fs.String("input_tree", "", "evaluate: input ensemble JSON path")
	metric := fs.String("metric", "rmse", "rmse, accuracy, ndcg, ndcg@N")
	outputEpochs := fs.Int("output_epochs", 0, "evaluate: emit one score per N trees; 0 means final only")
	outputPredictions := fs.String("output_predictions", "", "evaluate: output predictions path")

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("TEALTREE")); err != nil {
		return nil, tterr.WrapConfigError(err, "parsing command-line flags")
	}

	opts := &Options{
		InputFile:            *inputFile,
		InputPipe:            *inputPipe,
		TSVLabel:             *tsvLabel,
		TSVQuery:             *tsvQuery,
		SVMQuery:             *svmQuery,
		FeatureNamesFile:     *featureNamesFile,
		ExponentiateLabel:    *exponentiateLabel,
		InputSampleRate:      *inputSampleRate,
		BucketMaxBits:        *bucketMaxBits,
		SparsityThreshold:    *sparsityThreshold,
		InitialTailSize:      *initialTailSize,
		RegularizationLambda: *regularizationLambda,
		LearningRate:         *learningRate,
		NTrees:               *nTrees,
		NLeaves:              *nLeaves,
		MaxDepth:             *maxDepth,
		MinNodeDocs:          *minNodeDocs,
		MinNodeHessian:       *minNodeHessian,
		BaseScore:            *baseScore,
		TreeDebugInfo:        *treeDebugInfo,
		RandomSeed:           *randomSeed,
		NThreads:             *nThreads,
		LogLevel:             *logLevel,
		LogFile:              *logFile,
		OutputTree:           *outputTree,
		InputTree:            *inputTree,
		OutputEpochs:         *outputEpochs,
		OutputPredictions:    *outputPredictions,
	}

	switch {
	case *train && *evaluate:
		return nil, tterr.NewConfigError("--train and --evaluate are mutually exclusive")
	case *train:
		opts.Mode = ModeTrain
	case *evaluate:
		opts.Mode = ModeEvaluate
	default:
		return nil, tterr.NewConfigError("exactly one of --train or --evaluate is required")
	}

	if *inputFile != "" && *inputPipe != "" {
		return nil, tterr.NewConfigError("--input_file and --input_pipe are mutually exclusive")
	}
	if *inputFile == "" && *inputPipe == "" {
		return nil, tterr.NewConfigError("--input_file or --input_pipe is required")
	}

	if len(*tsvSeparator) != 1 {
		return nil, tterr.NewConfigError("--tsv_separator must be a single character, got %q", *tsvSeparator)
	}
	opts.TSVSeparator = (*tsvSeparator)[0]

	format, err := parseInputFormat(*inputFormat)
	if err != nil {
		return nil, err
	}
	opts.InputFormat = format

	rawType, err := parseRawKind(*defaultRawType)
	if err != nil {
		return nil, err
	}
	opts.DefaultRawType = rawType

	if *bucketMaxBits < 1 || *bucketMaxBits > 16 {
		return nil, tterr.NewConfigError("--bucket_max_bits must be in 1..16, got %d", *bucketMaxBits)
	}
	if *sparsityThreshold < 0 || *sparsityThreshold > 1 {
		return nil, tterr.NewConfigError("--sparsity_threshold must be in 0..1, got %v", *sparsityThreshold)
	}
	if *initialTailSize < 0 || *initialTailSize > 1 {
		return nil, tterr.NewConfigError("--initial_tail_size must be in 0..1, got %v", *initialTailSize)
	}

	sparseVer, err := parseSparseVersion(*sparseFeatureVersion)
	if err != nil {
		return nil, err
	}
	opts.SparseFeatureVer = sparseVer

	costFn, err := parseCostFunction(*costFunction)
	if err != nil {
		return nil, err
	}
	opts.CostFn = costFn

	stepKind, err := parseStep(*step)
	if err != nil {
		return nil, err
	}
	opts.Step = stepKind

	spreadKind, err := parseSpread(*exponentiateSpread)
	if err != nil {
		return nil, err
	}
	opts.Spread = spreadKind

	if *inputSampleRate < 0 || *inputSampleRate > 1 {
		return nil, tterr.NewConfigError("--input_sample_rate must be in 0..1, got %v", *inputSampleRate)
	}
	if *nTrees < 0 {
		return nil, tterr.NewConfigError("--n_trees must be >= 0, got %d", *nTrees)
	}
	if *nLeaves < 1 {
		return nil, tterr.NewConfigError("--n_leaves must be >= 1, got %d", *nLeaves)
	}
	if *nThreads < 0 {
		return nil, tterr.NewConfigError("--n_threads must be >= 0, got %d", *nThreads)
	}

	if opts.Mode == ModeEvaluate {
		if *inputTree == "" {
			return nil, tterr.NewConfigError("--evaluate requires --input_tree")
		}
		m, err := parseMetric(*metric)
		if err != nil {
			return nil, err
		}
		opts.EvalMetric = m
	}

	return opts, nil
}

func parseInputFormat(s string) (InputFormat, error) {
	switch strings.ToLower(s) {
	case "tsv":
		return FormatTSV, nil
	case "svm":
		return FormatSVM, nil
	default:
		return 0, tterr.NewConfigError("unknown --input_format %q, want tsv or svm", s)
	}
}

func parseRawKind(s string) (rawfeature.Kind, error) {
	switch strings.ToLower(s) {
	case "uint8":
		return rawfeature.KindUint8, nil
	case "int8":
		return rawfeature.KindInt8, nil
	case "uint16":
		return rawfeature.KindUint16, nil
	case "int16":
		return rawfeature.KindInt16, nil
	case "uint32":
		return rawfeature.KindUint32, nil
	case "int32":
		return rawfeature.KindInt32, nil
	case "float":
		return rawfeature.KindFloat32, nil
	default:
		return 0, tterr.NewConfigError("unknown --default_raw_feature_type %q", s)
	}
}

func parseSparseVersion(s string) (SparseFeatureVersion, error) {
	switch strings.ToLower(s) {
	case "v1":
		return SparseV1, nil
	case "v2":
		return SparseV2, nil
	case "auto":
		return SparseAuto, nil
	default:
		return 0, tterr.NewConfigError("unknown --sparse_feature_version %q, want v1, v2 or auto", s)
	}
}

func parseStep(s string) (Step, error) {
	switch strings.ToLower(s) {
	case "gradient":
		return StepGradient, nil
	case "newton":
		return StepNewton, nil
	default:
		return 0, tterr.NewConfigError("unknown --step %q, want gradient or newton", s)
	}
}

func parseSpread(s string) (split.SpreadKind, error) {
	switch strings.ToLower(s) {
	case "linear":
		return split.Linear, nil
	case "quadratic":
		return split.Quadratic, nil
	default:
		return 0, tterr.NewConfigError("unknown --spread %q, want linear or quadratic", s)
	}
}

// parseCostFunction accepts "regression", "binary_classification", or
// "lambda_rank@N" (N an NDCG truncation depth; bare "lambda_rank" means
// unbounded).
func parseCostFunction(s string) (CostFunction, error) {
	name, cutoff, err := splitAtCutoff(s, []string{"lambda_rank"})
	if err != nil {
		return CostFunction{}, err
	}
	switch name {
	case "regression", "binary_classification", "lambda_rank":
		return CostFunction{Name: name, LambdaRankCutoff: cutoff}, nil
	default:
		return CostFunction{}, tterr.NewConfigError(
			"unknown --cost_function %q, want regression, binary_classification or lambda_rank[@N]", s)
	}
}

// parseMetric accepts "rmse", "accuracy", "ndcg", or "ndcg@N".
func parseMetric(s string) (Metric, error) {
	name, depth, err := splitAtCutoff(s, []string{"ndcg"})
	if err != nil {
		return Metric{}, err
	}
	switch name {
	case "rmse", "accuracy", "ndcg":
		return Metric{Name: name, NDCGDepth: depth}, nil
	default:
		return Metric{}, tterr.NewConfigError("unknown --metric %q, want rmse, accuracy, ndcg or ndcg@N", s)
	}
}

// splitAtCutoff splits "name@N" into (name, N); bare "name" yields
// (name, 0). allowedWithCutoff lists the only base names permitted to
// carry an "@N" suffix; any other base name is returned unchanged for
// the caller to reject.
func splitAtCutoff(s string, allowedWithCutoff []string) (string, int, error) {
	s = strings.ToLower(s)
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return s, 0, nil
	}
	base, numStr := s[:at], s[at+1:]
	allowed := false
	for _, a := range allowedWithCutoff {
		if a == base {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", 0, tterr.NewConfigError("%q does not accept an @N suffix", base)
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return "", 0, tterr.NewConfigError("invalid @N cutoff in %q", s)
	}
	return base, n, nil
}
