package analyzer

import (
	"context"
	"fmt"
)

// Detection is a single object found in an artifact with its confidence in [0,1].
type Detection struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Result is the structured outcome of analyzing one artifact.
type Result struct {
	Detections      []Detection `json:"detections"`
	RiskLevel       Level       `json:"risk_level"`
	RiskDescription string      `json:"risk_description"`
}

// Analyzer turns an opaque artifact location into a safety assessment.
// Implementations must be safe for concurrent calls on different artifacts.
type Analyzer interface {
	Analyze(ctx context.Context, artifactLocation string) (*Result, error)
}

// AnalysisError describes why an artifact could not be assessed: the artifact
// was unreadable, not a decodable image, or the detection step itself failed.
type AnalysisError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("analysis failed: %s", e.Reason)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// NewAnalysisError builds an AnalysisError with an optional cause.
func NewAnalysisError(reason string, err error) *AnalysisError {
	return &AnalysisError{Reason: reason, Err: err}
}
