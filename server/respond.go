package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dotside-studios/closet-nfc/closet"
	"github.com/dotside-studios/closet-nfc/nfc"
	"github.com/dotside-studios/closet-nfc/protocol"
)

// maxBodyBytes bounds API request bodies.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: message, Code: code})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeFailure maps a domain error to its status code.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, closet.ErrNotFound):
		writeError(w, http.StatusNotFound, protocol.ErrCodeNotFound, err.Error())
	case errors.Is(err, closet.ErrTagInUse):
		writeError(w, http.StatusConflict, protocol.ErrCodeTagInUse, err.Error())
	case errors.Is(err, closet.ErrInvalidTag):
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidTagID, err.Error())
	case errors.Is(err, closet.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, err.Error())
	case errors.Is(err, closet.ErrBoxFull):
		writeError(w, http.StatusConflict, protocol.ErrCodeBoxFull, err.Error())
	case errors.Is(err, nfc.ErrBusy):
		writeError(w, http.StatusConflict, protocol.ErrCodeBusy, err.Error())
	default:
		s.logger.Printf("%s %s failed: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, protocol.ErrCodeInternalError, "internal error")
	}
}
