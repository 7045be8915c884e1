package atlas

import (
	"errors"
	"fmt"
)

// ErrCancelled reports a cooperative abort; the result holds what was placed.
var ErrCancelled = errors.New("cancelled")

// Error kinds as written to the protocol.
const (
	KindMalformedMesh           = "MalformedMesh"
	KindDegenerateChart         = "DegenerateChart"
	KindParameterizationFailure = "ParameterizationFailure"
	KindPackingOverflow         = "PackingOverflow"
	KindCancelled               = "Cancelled"
	KindInvalidOption           = "InvalidOption"
	KindInternal                = "Internal"
)

// MalformedMeshError rejects a whole mesh: bad indices or degenerate faces.
type MalformedMeshError struct {
	Mesh string
	Err  error
}

func (e *MalformedMeshError) Error() string {
	return fmt.Sprintf("mesh %q: malformed: %v", e.Mesh, e.Err)
}

func (e *MalformedMeshError) Unwrap() error { return e.Err }

// DegenerateChartError reports a chart that flattened with flipped faces or
// zero area. The engine re-seeds the chart once before giving up.
type DegenerateChartError struct {
	Mesh  string
	Chart int
	Err   error
}

func (e *DegenerateChartError) Error() string {
	return fmt.Sprintf("mesh %q chart %d: degenerate: %v", e.Mesh, e.Chart, e.Err)
}

func (e *DegenerateChartError) Unwrap() error { return e.Err }

// ParameterizationFailure excludes one chart from the atlas. Its faces keep
// the zero UV and page -1.
type ParameterizationFailure struct {
	Mesh  string
	Chart int
	Faces int
	Err   error
}

func (e *ParameterizationFailure) Error() string {
	return fmt.Sprintf("mesh %q chart %d: parameterization failed (%d faces): %v", e.Mesh, e.Chart, e.Faces, e.Err)
}

func (e *ParameterizationFailure) Unwrap() error { return e.Err }

// PackingOverflow reports a chart that did not fit within the page limit.
type PackingOverflow struct {
	Mesh     string
	Chart    int
	MaxPages int
}

func (e *PackingOverflow) Error() string {
	return fmt.Sprintf("mesh %q chart %d: does not fit in %d pages", e.Mesh, e.Chart, e.MaxPages)
}

// ErrorKind classifies err for the protocol.
func ErrorKind(err error) string {
	var (
		malformed  *MalformedMeshError
		degenerate *DegenerateChartError
		failure    *ParameterizationFailure
		overflow   *PackingOverflow
	)
	switch {
	case errors.As(err, &failure):
		return KindParameterizationFailure
	case errors.As(err, &degenerate):
		return KindDegenerateChart
	case errors.As(err, &malformed):
		return KindMalformedMesh
	case errors.As(err, &overflow):
		return KindPackingOverflow
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrInvalidOption):
		return KindInvalidOption
	default:
		return KindInternal
	}
}
