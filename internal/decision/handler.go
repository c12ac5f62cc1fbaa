package decision

import (
	"agora/internal/decision/model"
	"agora/internal/decision/service"
	"agora/middleware"
	"agora/pkg/logger"
	"encoding/json"
	"errors"
	"net/http"
)

type DecisionHandler struct {
	Service *service.DecisionService
}

func NewDecisionHandler(service *service.DecisionService) *DecisionHandler {
	return &DecisionHandler{Service: service}
}

func (h *DecisionHandler) CreateDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req model.CreateDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	d, err := h.Service.CreateDecision(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, "create decision", err)
		return
	}

	writeJSON(w, http.StatusCreated, model.CreateDecisionResponse{DecisionID: d.ID, ClosedAt: d.ClosedAt})
}

func (h *DecisionHandler) GetDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	views, err := h.Service.ListDecisions(r.Context())
	if err != nil {
		writeServiceError(w, "list decisions", err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *DecisionHandler) GetDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	decisionID := r.URL.Query().Get("decisionId")
	if decisionID == "" {
		http.Error(w, "Missing decisionId parameter", http.StatusBadRequest)
		return
	}

	view, err := h.Service.GetDecision(r.Context(), decisionID)
	if err != nil {
		writeServiceError(w, "get decision "+decisionID, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *DecisionHandler) UpdateDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	decisionID := r.URL.Query().Get("decisionId")
	if decisionID == "" {
		http.Error(w, "Missing decisionId parameter", http.StatusBadRequest)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req model.UpdateDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	view, err := h.Service.UpdateDecision(r.Context(), decisionID, userID, req)
	if err != nil {
		writeServiceError(w, "update decision "+decisionID, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *DecisionHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req model.CastVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.DecisionID == "" || req.Value == nil {
		http.Error(w, "Decision ID and value are required", http.StatusBadRequest)
		return
	}

	value, err := model.ParseVoteValue(*req.Value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	v, balance, err := h.Service.CastVote(r.Context(), req.DecisionID, userID, value)
	if err != nil {
		writeServiceError(w, "cast vote on "+req.DecisionID, err)
		return
	}

	writeJSON(w, http.StatusCreated, model.CastVoteResponse{
		VoteResponse: model.VoteResponse{Vote: v, Label: v.Value.String()},
		Balance:      balance,
	})
}

func (h *DecisionHandler) GetVotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	decisionID := r.URL.Query().Get("decisionId")
	if decisionID == "" {
		http.Error(w, "Missing decisionId parameter", http.StatusBadRequest)
		return
	}

	votes, err := h.Service.ListVotes(r.Context(), decisionID)
	if err != nil {
		writeServiceError(w, "list votes of "+decisionID, err)
		return
	}

	resp := make([]model.VoteResponse, 0, len(votes))
	for _, v := range votes {
		resp = append(resp, model.VoteResponse{Vote: v, Label: v.Value.String()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *DecisionHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	decisionID := r.URL.Query().Get("decisionId")
	if decisionID == "" {
		http.Error(w, "Missing decisionId parameter", http.StatusBadRequest)
		return
	}

	balance, err := h.Service.Balance(r.Context(), decisionID)
	if err != nil {
		writeServiceError(w, "balance of "+decisionID, err)
		return
	}
	writeJSON(w, http.StatusOK, model.BalanceResponse{DecisionID: decisionID, Balance: balance})
}

func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case service.IsClientError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, model.ErrDecisionNotFound):
		http.Error(w, "Decision not found", http.StatusNotFound)
	case errors.Is(err, model.ErrDecisionClosed):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logger.Sugar.Errorf("Handler: Failed to %s: %v", op, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Sugar.Errorf("Handler: Failed to encode response: %v", err)
	}
}
