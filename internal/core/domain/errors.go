package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTemporary          = errors.New("temporary failure")
	ErrAnalysis           = errors.New("query analysis failed")
	ErrPlanning           = errors.New("planning failed")
	ErrRetrievalExhausted = errors.New("all vertical retrievals failed")
	ErrFusion             = errors.New("evidence fusion failed")
	ErrSynthesis          = errors.New("answer synthesis failed")
	ErrCancelled          = errors.New("request cancelled")
	ErrRerankUnavailable  = errors.New("reranker unavailable")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// Stage names one step of the answer pipeline.
type Stage string

const (
	StageAnalyze    Stage = "analyze"
	StagePlan       Stage = "plan"
	StageRetrieve   Stage = "retrieve"
	StageFuse       Stage = "fuse"
	StageSynthesize Stage = "synthesize"
)

// FailureReason is the machine-readable reason reported to callers.
type FailureReason string

const (
	ReasonAnalysisFailed     FailureReason = "analysis_failed"
	ReasonPlanningFailed     FailureReason = "planning_failed"
	ReasonRetrievalExhausted FailureReason = "retrieval_exhausted"
	ReasonFusionFailed       FailureReason = "fusion_failed"
	ReasonSynthesisFailed    FailureReason = "synthesis_failed"
	ReasonCancelled          FailureReason = "cancelled"
)

// StageError is the terminal error of a pipeline run. It unwraps to both the
// reason sentinel and the underlying cause.
type StageError struct {
	Stage  Stage
	Reason FailureReason
	Err    error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Reason, e.Err)
}

func (e *StageError) Unwrap() []error {
	out := make([]error, 0, 2)
	if kind := reasonKind(e.Reason); kind != nil {
		out = append(out, kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func NewStageError(stage Stage, reason FailureReason, err error) *StageError {
	return &StageError{Stage: stage, Reason: reason, Err: err}
}

// AsStageError extracts the StageError from err if one is present.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func reasonKind(reason FailureReason) error {
	switch reason {
	case ReasonAnalysisFailed:
		return ErrAnalysis
	case ReasonPlanningFailed:
		return ErrPlanning
	case ReasonRetrievalExhausted:
		return ErrRetrievalExhausted
	case ReasonFusionFailed:
		return ErrFusion
	case ReasonSynthesisFailed:
		return ErrSynthesis
	case ReasonCancelled:
		return ErrCancelled
	default:
		return nil
	}
}
