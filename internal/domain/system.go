package domain

import "time"

const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck is the outcome of one dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probes for /readyz.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// TransitionKind names the reconciliation step that produced an event.
type TransitionKind string

const (
	TransitionCartMerged      TransitionKind = "cart.merged"
	TransitionFavoritesMerged TransitionKind = "favorites.merged"
	TransitionCartSnapshot    TransitionKind = "cart.snapshot"
)

// TransitionEvent records the outcome of a sign-in or sign-out reconciliation step.
type TransitionEvent struct {
	ID             string         `json:"id"`
	Kind           TransitionKind `json:"kind"`
	UserID         string         `json:"userId"`
	GuestSessionID string         `json:"guestSessionId,omitempty"`
	Outcome        string         `json:"outcome"`
	Items          int            `json:"items"`
	Error          string         `json:"error,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
}
