package api

import (
	"fmt"
	"net/http"
	"strconv"

	app_errors "polychat/internal/errors"
	"polychat/internal/interfaces"
	"polychat/internal/llm"
)

// ModelHandler handles HTTP requests for model discovery.
type ModelHandler struct {
	service interfaces.ModelService
}

func NewModelHandler(svc interfaces.ModelService) *ModelHandler {
	return &ModelHandler{service: svc}
}

// HandleListModels godoc
// @Summary      List models
// @Description  Lists the models of a provider. An unreachable or unconfigured provider returns an empty list.
// @Tags         Models
// @Produce      json
// @Param        provider  query     string  false  "Provider, defaults to the selected one"
// @Param        free      query     bool    false  "Only free models, defaults to the free_models_only setting"
// @Success      200       {array}   llm.ModelInfo
// @Failure      400       {object}  ErrorResponse
// @Router       /v1/models [get]
func (h *ModelHandler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	var freeOnly *bool
	if raw := r.URL.Query().Get("free"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondWithError(w, fmt.Errorf("%w: free must be a boolean", app_errors.ErrValidation))
			return
		}
		freeOnly = &v
	}

	models, err := h.service.List(r.Context(), r.URL.Query().Get("provider"), freeOnly)
	if err != nil {
		respondWithError(w, err)
		return
	}
	if models == nil {
		models = []llm.ModelInfo{}
	}
	respondWithJSON(w, http.StatusOK, models)
}

// HandleListProviders godoc
// @Summary      List providers
// @Description  Reports every provider and whether it has what it needs to be used.
// @Tags         Models
// @Produce      json
// @Success      200  {array}  llm.ProviderStatus
// @Router       /v1/providers [get]
func (h *ModelHandler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.service.Providers())
}
