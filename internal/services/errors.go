package services

import (
	"github.com/taskmesh/backend/internal/apperr"
)

// classify keeps classified store errors, replacing the message of a
// NotFound with notFoundMsg, and wraps anything else as Internal.
func classify(err error, notFoundMsg, op string) error {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return apperr.Wrap(apperr.KindNotFound, err, notFoundMsg)
	case apperr.KindInternal:
		return apperr.Internal(err, op)
	default:
		return err
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).String()
}
