package domain

import "errors"

// ErrPlanNotFound is returned when a requested plan id has no catalog entry.
var ErrPlanNotFound = errors.New("plan not found")

// ErrNoActiveSubscription is returned when an operation requires an existing
// subscription and the user has none.
var ErrNoActiveSubscription = errors.New("no active subscription")
