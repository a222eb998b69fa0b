// Package tterr defines the typed error kinds used across TealTree.
//
// Each kind wraps its cause with github.com/pkg/errors so that call sites
// can still walk the chain with errors.Cause/errors.As, while top-level
// code (cmd/tealtree) can switch on the concrete kind to decide the exit
// behavior described in spec.md §7.
package tterr

import "github.com/pkg/errors"

// ConfigError signals a flag parse failure, mutually exclusive inputs, an
// out-of-range numeric flag, or an unknown enum value.
type ConfigError struct {
	cause error
}

func NewConfigError(format string, args ...interface{}) error {
	return &ConfigError{cause: errors.Errorf(format, args...)}
}

func WrapConfigError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &ConfigError{cause: errors.Wrap(err, msg)}
}

func (e *ConfigError) Error() string { return "config error: " + e.cause.Error() }
func (e *ConfigError) Unwrap() error { return e.cause }

// InputParseError signals a malformed header, row arity mismatch,
// unparseable number, SVM token without ':', or unknown qid.
type InputParseError struct {
	cause error
}

func NewInputParseError(format string, args ...interface{}) error {
	return &InputParseError{cause: errors.Errorf(format, args...)}
}

func WrapInputParseError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &InputParseError{cause: errors.Wrap(err, msg)}
}

func (e *InputParseError) Error() string { return "input parse error: " + e.cause.Error() }
func (e *InputParseError) Unwrap() error { return e.cause }

// TypePromotionFailure signals a raw value that does not fit any of the
// seven raw feature types. internal/rawfeature raises it for NaN and ±Inf
// values; a non-numeric string is reported by ingest as an
// InputParseError instead.
type TypePromotionFailure struct {
	cause error
}

func NewTypePromotionFailure(format string, args ...interface{}) error {
	return &TypePromotionFailure{cause: errors.Errorf(format, args...)}
}

func (e *TypePromotionFailure) Error() string { return "type promotion failure: " + e.cause.Error() }
func (e *TypePromotionFailure) Unwrap() error { return e.cause }

// BucketizeError signals a feature with zero observations.
type BucketizeError struct {
	cause error
}

func NewBucketizeError(format string, args ...interface{}) error {
	return &BucketizeError{cause: errors.Errorf(format, args...)}
}

func (e *BucketizeError) Error() string { return "bucketize error: " + e.cause.Error() }
func (e *BucketizeError) Unwrap() error { return e.cause }

// QueueAborted signals that a consumer closed an intermediate pipeline;
// producers treat it as a recoverable "stop" signal.
type QueueAborted struct {
	cause error
}

func NewQueueAborted(reason string) error {
	return &QueueAborted{cause: errors.New(reason)}
}

func (e *QueueAborted) Error() string { return "queue aborted: " + e.cause.Error() }
func (e *QueueAborted) Unwrap() error { return e.cause }

// CorruptEnsemble signals a load-time JSON deserialization failure or a
// threshold string that doesn't parse as the declared feature type.
type CorruptEnsemble struct {
	cause error
}

func NewCorruptEnsemble(format string, args ...interface{}) error {
	return &CorruptEnsemble{cause: errors.Errorf(format, args...)}
}

func WrapCorruptEnsemble(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &CorruptEnsemble{cause: errors.Wrap(err, msg)}
}

func (e *CorruptEnsemble) Error() string { return "corrupt ensemble: " + e.cause.Error() }
func (e *CorruptEnsemble) Unwrap() error { return e.cause }

// NumericOverflow signals a feature value or running score exceeding a
// representable magnitude. Nothing in the module constructs it: during
// training a too-large score is logged once as a warning and training
// continues, and the evaluator does not check feature values against
// their raw types, so no overflow error is returned there either.
type NumericOverflow struct {
	cause error
}

func NewNumericOverflow(format string, args ...interface{}) error {
	return &NumericOverflow{cause: errors.Errorf(format, args...)}
}

func (e *NumericOverflow) Error() string { return "numeric overflow: " + e.cause.Error() }
func (e *NumericOverflow) Unwrap() error { return e.cause }
