package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/teranos/shopreel/errors"
	"github.com/teranos/shopreel/pipeline"
)

// handleError maps a pipeline or storage error to an HTTP status and
// writes the JSON error body. Unclassified errors become 500s with the
// detail kept in the server log, not the response.
func handleError(w http.ResponseWriter, logger *zap.SugaredLogger, err error, context string) {
	switch {
	case errors.Is(err, errors.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrValidation), errors.Is(err, errors.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errors.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errors.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Errorw(context, "error", err)
		writeError(w, http.StatusInternalServerError, context)
	}
}
