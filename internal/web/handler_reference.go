package web

import (
	"net/http"

	"github.com/vbonduro/stockscan/internal/domain"
)

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.service.Providers(r.Context())
	if err != nil {
		s.logger.Error("list providers failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list providers")
		return
	}
	if providers == nil {
		providers = []domain.Provider{}
	}
	writeJSON(w, http.StatusOK, providers)
}

func (s *Server) handleListDestinations(w http.ResponseWriter, r *http.Request) {
	destinations, err := s.service.Destinations(r.Context())
	if err != nil {
		s.logger.Error("list destinations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list destinations")
		return
	}
	if destinations == nil {
		destinations = []domain.Destination{}
	}
	writeJSON(w, http.StatusOK, destinations)
}
