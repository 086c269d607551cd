/**
 * @description
 * This file contains the event handlers that process messages from RabbitMQ.
 * The subscription-service consumes platform usage events and decrements the
 * owning user's credit balance accordingly; credits are spent elsewhere on
 * the platform, never by this service itself.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/veltra/subscription-service/internal/domain"
	"github.com/veltra/subscription-service/internal/store"
)

// Topology for usage events consumed from the platform.
const (
	UsageEventsExchange       = "usage_events"
	CreditsConsumedQueue      = "subscription_service_credits_consumed"
	CreditsConsumedRoutingKey = "credits.consumed"
)

// UsageEventHandler processes usage events that spend credits.
type UsageEventHandler struct {
	service *Service
}

// NewUsageEventHandler creates a new instance of UsageEventHandler.
func NewUsageEventHandler(service *Service) *UsageEventHandler {
	return &UsageEventHandler{service: service}
}

// HandleCreditsConsumedEvent applies a credits.consumed event to the user's
// subscription. The return value decides the message's fate: true
// acknowledges, false requeues.
func (h *UsageEventHandler) HandleCreditsConsumedEvent(body []byte) bool {
	var event domain.CreditsConsumedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("Error unmarshaling credits.consumed event: %v", err)
		return true // Acknowledge malformed message; requeueing cannot fix it.
	}

	if event.UserID == "" {
		log.Printf("credits.consumed event missing user_id; acking")
		return true
	}
	if event.Amount <= 0 {
		log.Printf("credits.consumed event for user %s has non-positive amount %d; acking", event.UserID, event.Amount)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	updated, err := h.service.ConsumeCredits(ctx, event.UserID, event.Amount)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			log.Printf("credits.consumed event for user %s without a subscription. Acknowledging to avoid requeue loop.", event.UserID)
			return true
		}
		log.Printf("ERROR: Failed to consume %d credits for user %s: %v", event.Amount, event.UserID, err)
		return false // Retryable failure.
	}

	log.Printf("Consumed %d credits for user %s (source=%s, remaining=%d)", event.Amount, event.UserID, event.Source, updated.CreditsRemaining)
	return true
}
