/**
 * @description
 * HTTP handlers for the subscription service. End-user routes resolve the
 * user from the verified JWT in the request context; internal routes take an
 * explicit user ID path parameter and are reserved for trusted
 * server-to-server callers.
 */
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/veltra/subscription-service/internal/app"
	"github.com/veltra/subscription-service/internal/domain"
	"github.com/veltra/subscription-service/internal/store"
)

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service *app.Service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service *app.Service) *Handler {
	return &Handler{service: service}
}

type subscribeRequest struct {
	PlanID string `json:"plan_id"`
}

type consumeCreditsRequest struct {
	Amount int    `json:"amount"`
	Source string `json:"source"`
}

func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.service.ListPlans())
}

func (h *Handler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sub, err := h.service.FetchSubscription(r.Context(), userID)
	if err != nil {
		log.Printf("Error fetching subscription for user %s: %v", userID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if sub == nil {
		http.Error(w, "Subscription not found", http.StatusNotFound)
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PlanID == "" {
		http.Error(w, "plan_id is required", http.StatusBadRequest)
		return
	}

	sub, err := h.service.CreateSubscription(r.Context(), userID, req.PlanID)
	if err != nil {
		if errors.Is(err, domain.ErrPlanNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Printf("Error subscribing user %s to plan %s: %v", userID, req.PlanID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusCreated, sub)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sub, err := h.service.CancelSubscription(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveSubscription) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		log.Printf("Error cancelling subscription for user %s: %v", userID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	usage, err := h.service.GetUsage(r.Context(), userID)
	if err != nil {
		log.Printf("Error deriving credit usage for user %s: %v", userID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, usage)
}

func (h *Handler) handleGetSubscriptionInternal(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	sub, err := h.service.FetchSubscription(r.Context(), userID)
	if err != nil {
		log.Printf("Error fetching subscription for user %s: %v", userID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if sub == nil {
		http.Error(w, "Subscription not found", http.StatusNotFound)
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleCreateSubscriptionInternal(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PlanID == "" {
		http.Error(w, "plan_id is required", http.StatusBadRequest)
		return
	}

	sub, err := h.service.CreateSubscription(r.Context(), userID, req.PlanID)
	if err != nil {
		if errors.Is(err, domain.ErrPlanNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Printf("Error subscribing user %s to plan %s: %v", userID, req.PlanID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusCreated, sub)
}

func (h *Handler) handleCancelSubscriptionInternal(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	sub, err := h.service.CancelSubscription(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveSubscription) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		log.Printf("Error cancelling subscription for user %s: %v", userID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleGetUsageInternal(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	usage, err := h.service.GetUsage(r.Context(), userID)
	if err != nil {
		log.Printf("Error deriving credit usage for user %s: %v", userID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, usage)
}

func (h *Handler) handleConsumeCredits(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	var req consumeCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sub, err := h.service.ConsumeCredits(r.Context(), userID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidCreditAmount):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, store.ErrSubscriptionNotFound):
			http.Error(w, "Subscription not found", http.StatusNotFound)
		default:
			log.Printf("Error consuming %d credits for user %s (source %s): %v", req.Amount, userID, req.Source, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleRunPastDueSweep(w http.ResponseWriter, r *http.Request) {
	swept, err := h.service.ExpireOverdueSubscriptions(r.Context())
	if err != nil {
		log.Printf("Error sweeping overdue subscriptions: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]int{"swept": swept})
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
