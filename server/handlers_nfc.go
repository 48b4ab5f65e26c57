package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dotside-studios/closet-nfc/closet"
	"github.com/dotside-studios/closet-nfc/nfc"
	"github.com/dotside-studios/closet-nfc/protocol"
)

// maxRecordHex bounds the hex rendering of a record payload in inspect responses.
const maxRecordHex = 64

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := protocol.StatusResponse{
		Supported: true,
		Reading:   s.config.Sessions.Reading(),
		Writing:   s.config.Sessions.Writing(),
		Busy:      s.config.Sessions.Busy(),
		Devices:   []protocol.DeviceInfo{},
	}
	if err := s.config.Sessions.Supported(r.Context()); err != nil {
		resp.Supported = false
		resp.Reason = err.Error()
	}
	if s.config.Devices != nil {
		for _, d := range s.config.Devices.Devices() {
			resp.Devices = append(resp.Devices, d.Info())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	var req protocol.ReadRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, err.Error())
		return
	}
	opts := nfc.ReadOptions{SkipExistenceCheck: req.SkipExistenceCheck}
	if req.Intended != nil {
		ref, err := entityRef(req.Intended.Type, req.Intended.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, err.Error())
			return
		}
		opts.Intended = &ref
	}

	out, err := s.config.Sessions.TryRead(r.Context(), opts)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req protocol.WriteRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, err.Error())
		return
	}
	if req.TagID == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidTagID, "tagId is required")
		return
	}

	// Invalid identifiers still go through the session, which reports NO_USABLE_IDENTIFIER.
	out, err := s.config.Sessions.TryWrite(r.Context(), req.TagID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleContinuous streams one server-sent "outcome" event per tag until the
// client disconnects.
func (s *Server) handleContinuous(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, protocol.ErrCodeInternalError, "streaming unsupported")
		return
	}
	if s.config.Sessions.Busy() {
		s.writeFailure(w, r, nfc.ErrBusy)
		return
	}
	opts := nfc.ReadOptions{SkipExistenceCheck: r.URL.Query().Get("skipExistenceCheck") == "true"}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(event string, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			s.logger.Printf("Encode %s event: %v", event, err)
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	err := s.config.Sessions.Continuous(r.Context(), opts, func(out nfc.ScanOutcome) {
		send("outcome", out)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Printf("Continuous scan ended: %v", err)
		send("error", protocol.ErrorResponse{Error: err.Error(), Code: protocol.ErrCodeInternalError})
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.CancelResponse{Cancelled: s.config.Sessions.Cancel()})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.GenerateResponse{TagID: nfc.GenerateIdentifier()})
}

// handleInspect scans a tag for management: every record is shown, and the
// selected identifier is looked up without registering anything.
func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	out, err := s.config.Sessions.TryRead(r.Context(), nfc.ReadOptions{SkipExistenceCheck: true})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	resp := protocol.InspectResponse{
		Success:      out.Success,
		Message:      out.Message,
		SerialNumber: out.SerialNumber,
		Records:      recordViews(out.Records),
		TagID:        out.TagID,
		Source:       string(out.Source),
	}
	if !out.Success {
		resp.Kind = out.Kind.String()
	}
	if out.Success {
		a, err := s.config.Catalog.FindEntityByTag(r.Context(), out.TagID)
		switch {
		case err == nil:
			resp.Association = associationView(a)
		case !errors.Is(err, closet.ErrNotFound):
			s.logger.Printf("Inspect lookup of %s failed: %v", out.TagID, err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func recordViews(records []nfc.Record) []protocol.RecordView {
	views := make([]protocol.RecordView, 0, len(records))
	for i, rec := range records {
		v := protocol.RecordView{
			Index: i,
			Kind:  rec.Kind(),
			TNF:   rec.TNF,
			Type:  string(rec.Type),
		}
		if text, ok := rec.Text(); ok {
			v.Text = text
			v.ValidID = nfc.IsValidIdentifier(text) || nfc.IsMACLike(text)
		} else if len(rec.Payload) > 0 {
			hex := rec.Hex()
			v.ValidID = nfc.IsValidIdentifier(hex)
			if len(hex) > maxRecordHex {
				hex, v.Truncated = hex[:maxRecordHex], true
			}
			v.Hex = hex
		}
		views = append(views, v)
	}
	return views
}

func associationView(a *closet.Association) *protocol.AssociationView {
	return &protocol.AssociationView{
		TagID:      a.TagID,
		EntityType: string(a.EntityType),
		EntityID:   a.EntityID,
		EntityName: a.EntityName,
	}
}
