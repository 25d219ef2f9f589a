package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/username/slips/src/logger"
	"github.com/username/slips/src/models"
	"github.com/username/slips/src/utils"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.FromContext(r.Context()).Error("Error encoding JSON response", "path", r.URL.Path, "error", err)
	}
}

// writeJSONWithETag answers 304 when the client already holds the current representation.
func writeJSONWithETag(w http.ResponseWriter, r *http.Request, v interface{}) {
	log := logger.FromContext(r.Context())
	w.Header().Set("Cache-Control", "no-cache, private")

	currentETag, err := utils.GenerateETag(v)
	if err != nil {
		log.Warn("Proceeding without ETag check due to ETag generation error", "path", r.URL.Path, "error", err)
		writeJSON(w, r, http.StatusOK, v)
		return
	}
	quotedETag := fmt.Sprintf("\"%s\"", currentETag)
	w.Header().Set("ETag", quotedETag)
	for _, clientETag := range strings.Split(r.Header.Get("If-None-Match"), ",") {
		if strings.TrimSpace(clientETag) == quotedETag {
			log.Debug("ETag match", "path", r.URL.Path, "etag", currentETag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, v)
}

// writeServiceError maps the error taxonomy onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "An internal error occurred. Please try again later."
	var recErr *models.RecordError
	switch {
	case errors.As(err, &recErr), errors.Is(err, models.ErrMalformedMarker), errors.Is(err, models.ErrMalformedRecord),
		errors.Is(err, models.ErrNonNumericAmount), errors.Is(err, models.ErrFieldOverflow):
		status, message = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, models.ErrFileNotFound), errors.Is(err, models.ErrRunNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrRunNotHalted), errors.Is(err, models.ErrFileReleased):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, models.ErrStoreBusy):
		w.Header().Set("Retry-After", "5")
		status, message = http.StatusServiceUnavailable, err.Error()
	}
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	utils.SendJSONError(w, message, status)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}
