package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/andrew12-circle/circle-marketplace/internal/adminauth"
	"github.com/andrew12-circle/circle-marketplace/internal/batch"
	"github.com/andrew12-circle/circle-marketplace/internal/deals"
	"github.com/andrew12-circle/circle-marketplace/internal/research"
	"github.com/andrew12-circle/circle-marketplace/internal/store"
)

// maxBodyBytes bounds a bulk research request body.
const maxBodyBytes = 1 << 20

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			zap.L().Warn("api: health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type topDealsResponse struct {
	Deals []deals.Result `json:"deals"`
	Count int            `json:"count"`
}

// topDeals ranks the whole catalog with the current weights file. An
// optional ?limit= overrides the configured result limit.
func (h *handler) topDeals(w http.ResponseWriter, r *http.Request) {
	weights, err := deals.LoadWeights(h.deals.WeightsFile, h.deals.Weights)
	if err != nil {
		zap.L().Error("api: load deal weights", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load deal weights")
		return
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		weights.ResultLimit = limit
	}

	items, err := h.store.ListCatalogItems(r.Context(), store.ListOptions{})
	if err != nil {
		zap.L().Error("api: list catalog", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load catalog")
		return
	}

	results := deals.Rank(items, weights)
	if results == nil {
		results = []deals.Result{}
	}
	writeJSON(w, http.StatusOK, topDealsResponse{Deals: results, Count: len(results)})
}

type forbiddenResponse struct {
	Error      string               `json:"error"`
	Diagnostic adminauth.Diagnostic `json:"diagnostic"`
}

func (h *handler) bulkResearch(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	var req batch.PageRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Mode == "" {
		req.Mode = batch.ModeOverwrite
	}
	if req.Limit == 0 {
		req.Limit = batch.DefaultPageSize
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	resp, err := h.research.ProcessPage(r.Context(), userID, req)
	if err != nil {
		var forbidden *research.ForbiddenError
		if errors.As(err, &forbidden) {
			diag := forbidden.Diagnostic
			if !h.server.ExposeAdminDiagnostics {
				diag = diag.Redacted()
			}
			writeJSON(w, http.StatusForbidden, forbiddenResponse{Error: "forbidden", Diagnostic: diag})
			return
		}
		zap.L().Error("api: bulk research failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// validationMessage names the first failing field.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return strings.TrimSpace("invalid " + fe.Field() + ": failed " + fe.Tag() + " " + fe.Param())
	}
	return "invalid request"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
