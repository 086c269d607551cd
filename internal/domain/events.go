/**
 * @description
 * This file defines the event payloads exchanged with the message broker
 * (RabbitMQ). These structs are the contract for messages published to the
 * billing events exchange and consumed from the usage events exchange.
 */
package domain

// SubscriptionEvent is published whenever a subscription changes state
// (created, cancelled, or marked past due).
type SubscriptionEvent struct {
	UserID           string `json:"user_id"`
	SubscriptionID   string `json:"subscription_id"`
	PlanID           string `json:"plan_id"`
	Status           string `json:"status"`
	CreditsRemaining int    `json:"credits_remaining"`
}

// CreditsConsumedEvent is the payload received when a user spends credits
// elsewhere on the platform.
type CreditsConsumedEvent struct {
	UserID string `json:"user_id"`
	Amount int    `json:"amount"`
	Source string `json:"source,omitempty"`
}
