package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/vbonduro/stockscan/internal/domain"
	"github.com/vbonduro/stockscan/internal/service"
)

const maxAdjustBody = 16 * 1024

func parseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func (s *Server) handleItemByBarcode(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.ItemByBarcode(r.Context(), r.PathValue("code"))
	if errors.Is(err, service.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Item not found or is not active")
		return
	}
	if err != nil {
		s.logger.Error("barcode lookup failed", "code", r.PathValue("code"), "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to look up item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid item id")
		return
	}

	item, err := s.service.Item(r.Context(), id)
	if errors.Is(err, service.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Item not found")
		return
	}
	if err != nil {
		s.logger.Error("get item failed", "item_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleAdjustItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid item id")
		return
	}

	var req domain.AdjustmentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdjustBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := s.service.Adjust(r.Context(), id, req)
	var rejected *service.RejectedError
	switch {
	case errors.As(err, &rejected):
		writeError(w, http.StatusBadRequest, rejected.Message)
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "Item not found.")
	case err != nil:
		s.logger.Error("adjust failed", "item_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "An unexpected error occurred")
	default:
		writeJSON(w, http.StatusOK, item)
	}
}

type movementJSON struct {
	ID                int64    `json:"id"`
	ItemID            int64    `json:"item_id"`
	ItemName          string   `json:"item_name"`
	ActionType        string   `json:"action_type"`
	QuantityChanged   float64  `json:"quantity_changed"`
	ResultingQuantity float64  `json:"resulting_quantity"`
	ProviderID        *int64   `json:"provider_id"`
	CostPerItem       *float64 `json:"cost_per_item"`
	DestinationID     *int64   `json:"destination_id"`
	PersonName        *string  `json:"person_name"`
	Timestamp         string   `json:"timestamp"`
}

func (s *Server) handleListMovements(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid item id")
		return
	}

	logs, err := s.service.Movements(r.Context(), id)
	if errors.Is(err, service.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Item not found")
		return
	}
	if err != nil {
		s.logger.Error("list movements failed", "item_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list movements")
		return
	}

	out := make([]movementJSON, 0, len(logs))
	for _, m := range logs {
		out = append(out, movementJSON{
			ID:                m.ID,
			ItemID:            m.ItemID,
			ItemName:          m.ItemName,
			ActionType:        m.ActionType,
			QuantityChanged:   m.QuantityChanged,
			ResultingQuantity: m.ResultingQuantity,
			ProviderID:        m.ProviderID,
			CostPerItem:       m.CostPerItem,
			DestinationID:     m.DestinationID,
			PersonName:        m.PersonName,
			Timestamp:         m.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
