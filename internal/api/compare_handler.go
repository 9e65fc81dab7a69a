package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"polychat/internal/interfaces"
	"polychat/internal/model"
	"polychat/internal/service"
)

// CompareHandler serves side-by-side comparisons.
type CompareHandler struct {
	service interfaces.CompareService
}

func NewCompareHandler(svc interfaces.CompareService) *CompareHandler {
	return &CompareHandler{service: svc}
}

// HandleCompare godoc
// @Summary      Compare models
// @Description  Sends one prompt to several provider/model pairs at once and streams every reply. The last event has complete=true and the stored comparison id.
// @Tags         Compare
// @Accept       json
// @Produce      text/event-stream
// @Param        request  body      service.CompareRequest  true  "Prompt and targets"
// @Success      200      {object}  model.CompareEvent  "Stream of comparison events"
// @Failure      400      {object}  ErrorResponse       "Sent as a stream error event"
// @Router       /v1/compare [post]
func (h *CompareHandler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	setStreamHeaders(w)

	var req service.CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendStreamError(w, "Invalid request body")
		return
	}
	if err := validateRequest(&req); err != nil {
		sendStreamError(w, err.Error())
		return
	}

	ch := make(chan model.CompareEvent)
	go h.service.Compare(r.Context(), &req, ch)
	// Per-target failures are ordinary events; only request-level ones are errors.
	pipeStream(w, r, ch, func(ev model.CompareEvent) bool { return ev.Index < 0 && ev.Error != "" })
}

// HandleListComparisons godoc
// @Summary      List comparisons
// @Tags         Compare
// @Produce      json
// @Success      200  {array}   model.Comparison
// @Failure      500  {object}  ErrorResponse
// @Router       /v1/compare [get]
func (h *CompareHandler) HandleListComparisons(w http.ResponseWriter, r *http.Request) {
	comparisons, err := h.service.List(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	if comparisons == nil {
		comparisons = []*model.Comparison{}
	}
	respondWithJSON(w, http.StatusOK, comparisons)
}

// HandleGetComparison godoc
// @Summary      Get a comparison
// @Tags         Compare
// @Produce      json
// @Param        comparisonID  path      string  true  "Comparison ID"
// @Success      200           {object}  model.Comparison
// @Failure      404           {object}  ErrorResponse
// @Router       /v1/compare/{comparisonID} [get]
func (h *CompareHandler) HandleGetComparison(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Get(r.Context(), chi.URLParam(r, "comparisonID"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

// HandleDeleteComparison godoc
// @Summary      Delete a comparison
// @Tags         Compare
// @Produce      json
// @Param        comparisonID  path      string  true  "Comparison ID"
// @Success      200           {object}  StatusResponse
// @Failure      404           {object}  ErrorResponse
// @Router       /v1/compare/{comparisonID} [delete]
func (h *CompareHandler) HandleDeleteComparison(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "comparisonID")); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}
