package matrix

import (
	"errors"
	"fmt"
)

// MatrixError is the standard Matrix error body plus the HTTP status.
//
//	var merr *matrix.MatrixError
//	if errors.As(err, &merr) && merr.Code == matrix.ErrCodeUnknownToken { ... }
type MatrixError struct {
	Code       string `json:"errcode"`
	Message    string `json:"error"`
	StatusCode int    `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Matrix error codes this client or the development key server produce.
const (
	ErrCodeUnknownToken = "M_UNKNOWN_TOKEN"
	ErrCodeMissingToken = "M_MISSING_TOKEN"
	ErrCodeBadJSON      = "M_BAD_JSON"
	ErrCodeInvalidParam = "M_INVALID_PARAM"
	ErrCodeNotFound     = "M_NOT_FOUND"
	ErrCodeUnknown      = "M_UNKNOWN"
)

// IsMatrixError reports whether err wraps a *MatrixError with code.
func IsMatrixError(err error, code string) bool {
	var merr *MatrixError
	return errors.As(err, &merr) && merr.Code == code
}
