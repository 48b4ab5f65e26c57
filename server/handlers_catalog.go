package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dotside-studios/closet-nfc/closet"
	"github.com/dotside-studios/closet-nfc/nfc"
	"github.com/dotside-studios/closet-nfc/protocol"
)

const defaultRecommendedBoxes = 4

func entityRef(entityType, id string) (nfc.EntityRef, error) {
	ref := nfc.EntityRef{Type: nfc.EntityType(entityType), ID: id}
	if !ref.Type.Valid() {
		return ref, fmt.Errorf("unknown entity type %q: must be garment or box", entityType)
	}
	if id == "" {
		return ref, fmt.Errorf("entity id is required")
	}
	return ref, nil
}

func (s *Server) handleFindTag(w http.ResponseWriter, r *http.Request) {
	a, err := s.config.Catalog.FindEntityByTag(r.Context(), chi.URLParam(r, "tagId"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, associationView(a))
}

func (s *Server) handleUnbindTag(w http.ResponseWriter, r *http.Request) {
	ref, err := entityRef(chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, err.Error())
		return
	}
	removed, err := s.config.Catalog.RemoveEntityNFCTag(r.Context(), ref.Type, ref.ID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.UnbindResponse{Removed: removed})
}

func (s *Server) handleBindTag(w http.ResponseWriter, r *http.Request) {
	ref, err := entityRef(chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, err.Error())
		return
	}
	var req protocol.BindRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, err.Error())
		return
	}
	if !nfc.IsValidIdentifier(req.TagID) && !nfc.IsMACLike(req.TagID) {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidTagID,
			fmt.Sprintf("%q is not a valid tag identifier", req.TagID))
		return
	}

	a, err := s.config.Catalog.BindEntityNFCTag(r.Context(), ref, req.TagID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, associationView(a))
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req protocol.LookupRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, err.Error())
		return
	}
	if codes, _ := closet.ParseCodes(req.Codes); len(codes) == 0 {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, "no codes to look up")
		return
	}

	res, err := s.config.Catalog.BatchLookup(r.Context(), req.Codes)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req protocol.AssignRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, err.Error())
		return
	}
	if len(req.GarmentIDs) == 0 {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, "garmentIds is required")
		return
	}

	res, err := s.config.Catalog.AssignToBox(r.Context(), chi.URLParam(r, "id"), req.GarmentIDs)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRecommended(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecommendedBoxes
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	boxes, err := s.config.Catalog.RecommendedBoxes(r.Context(), limit)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if boxes == nil {
		boxes = []closet.Box{}
	}
	writeJSON(w, http.StatusOK, boxes)
}

// boxList is returned by GET /api/boxes. MostEmptyID is empty when every box is full.
type boxList struct {
	Boxes       []closet.Box `json:"boxes"`
	Capacity    int          `json:"capacity"`
	MostEmptyID string       `json:"mostEmptyId,omitempty"`
}

func (s *Server) handleListBoxes(w http.ResponseWriter, r *http.Request) {
	boxes, err := s.config.Catalog.Boxes(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	resp := boxList{Boxes: boxes, Capacity: closet.BoxCapacity}
	if resp.Boxes == nil {
		resp.Boxes = []closet.Box{}
	}

	b, err := s.config.Catalog.MostEmptyBox(r.Context())
	switch {
	case err == nil:
		resp.MostEmptyID = b.ID
	case !errors.Is(err, closet.ErrNotFound):
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeBox(w http.ResponseWriter, r *http.Request) (closet.BoxInput, error) {
	var req protocol.BoxRequest
	if err := decode(w, r, &req); err != nil {
		return closet.BoxInput{}, err
	}
	return closet.BoxInput{Name: req.Name, Location: req.Location, NFCTagID: req.NFCTagID}, nil
}

func (s *Server) handleCreateBox(w http.ResponseWriter, r *http.Request) {
	in, err := decodeBox(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, err.Error())
		return
	}
	b, err := s.config.Catalog.CreateBox(r.Context(), in)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleUpdateBox(w http.ResponseWriter, r *http.Request) {
	in, err := decodeBox(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeInvalidRequest, err.Error())
		return
	}
	b, err := s.config.Catalog.UpdateBox(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBox(w http.ResponseWriter, r *http.Request) {
	if err := s.config.Catalog.DeleteBox(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
