// Package errors maps model errors onto HTTP responses for the server.
package errors

import (
	"net/http"

	crdb "github.com/cockroachdb/errors"

	"github.com/copyleftdev/surrogate/internal/optimization"
)

// ErrNotFound is returned when a stored model does not exist.
var ErrNotFound = crdb.New("not found")

// Error codes reported to API clients.
const (
	CodeInvalidArgument    = "invalid_argument"
	CodeInvalidFeature     = "invalid_feature"
	CodeInsufficientData   = "insufficient_data"
	CodeNotFitted          = "not_fitted"
	CodeSingularCovariance = "singular_covariance"
	CodeNotFound           = "not_found"
	CodeInternal           = "internal"
)

// Code classifies err for API clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case crdb.Is(err, ErrNotFound):
		return CodeNotFound
	case crdb.Is(err, optimization.ErrInvalidFeature):
		return CodeInvalidFeature
	case crdb.Is(err, optimization.ErrInsufficientData):
		return CodeInsufficientData
	case crdb.Is(err, optimization.ErrNotFitted):
		return CodeNotFitted
	case crdb.Is(err, optimization.ErrSingularCovariance):
		return CodeSingularCovariance
	}
	if _, ok := optimization.IsOptimizationError(err); ok {
		return CodeInvalidArgument
	}
	return CodeInternal
}

// HTTPStatus returns the response status for err.
func HTTPStatus(err error) int {
	switch Code(err) {
	case "":
		return http.StatusOK
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidArgument, CodeInvalidFeature:
		return http.StatusBadRequest
	case CodeInsufficientData, CodeSingularCovariance:
		return http.StatusUnprocessableEntity
	case CodeNotFitted:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// InvalidArgument marks err as a client error.
func InvalidArgument(err error, op string) error {
	if err == nil {
		return nil
	}
	return &optimization.Error{Message: "invalid argument", Op: op, Err: err}
}
