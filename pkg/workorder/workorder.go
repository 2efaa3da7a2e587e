// Package workorder implements the transient-operation queue: agents claim
// a work order, execute it, and report success or failure; failures retry
// with exponential backoff up to a limit before the work order is archived
// to a permanent log (§4.2).
package workorder

import (
	"time"

	"github.com/google/uuid"

	"github.com/colliery-io/brokkr-sub000/pkg/labeling"
)

const (
	StatusPending      = "PENDING"
	StatusClaimed      = "CLAIMED"
	StatusRetryPending = "RETRY_PENDING"
)

const (
	DefaultMaxRetries          = 3
	DefaultBackoffSeconds      = 60
	DefaultClaimTimeoutSeconds = 3600
)

// CreateRequest is the JSON body for POST /api/v1/work-orders.
type CreateRequest struct {
	WorkType            string                `json:"work_type" validate:"required"`
	YAMLContent         string                `json:"yaml_content" validate:"required"`
	MaxRetries          *int                  `json:"max_retries"`
	BackoffSeconds      *int                  `json:"backoff_seconds"`
	ClaimTimeoutSeconds *int                  `json:"claim_timeout_seconds"`
	TargetAgentIDs      []uuid.UUID           `json:"target_agent_ids"`
	Labels              []string              `json:"labels"`
	Annotations         []labeling.Annotation `json:"annotations"`
}

// CompleteFailureRequest is the JSON body for
// POST /api/v1/work-orders/{id}/complete-failure.
type CompleteFailureRequest struct {
	ErrorMessage string `json:"error_message" validate:"required"`
	Retryable    bool   `json:"retryable"`
}

// CompleteSuccessRequest is the JSON body for
// POST /api/v1/work-orders/{id}/complete-success.
type CompleteSuccessRequest struct {
	ResultMessage string `json:"result_message"`
}

// Response is the JSON response for a queued work order.
type Response struct {
	ID                  uuid.UUID             `json:"id"`
	WorkType            string                `json:"work_type"`
	YAMLContent         string                `json:"yaml_content"`
	Status              string                `json:"status"`
	ClaimedBy           *uuid.UUID            `json:"claimed_by,omitempty"`
	ClaimedAt           *time.Time            `json:"claimed_at,omitempty"`
	ClaimTimeoutSeconds int                   `json:"claim_timeout_seconds"`
	MaxRetries          int                   `json:"max_retries"`
	RetryCount          int                   `json:"retry_count"`
	BackoffSeconds      int                   `json:"backoff_seconds"`
	NextRetryAfter      *time.Time            `json:"next_retry_after,omitempty"`
	LastError           *string               `json:"last_error,omitempty"`
	LastErrorAt         *time.Time            `json:"last_error_at,omitempty"`
	Labels              []string              `json:"labels"`
	Annotations         []labeling.Annotation `json:"annotations"`
	CreatedAt           time.Time             `json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

// LogResponse is the JSON response for an archived work order.
type LogResponse struct {
	ID               uuid.UUID  `json:"id"`
	WorkType         string     `json:"work_type"`
	CreatedAt        time.Time  `json:"created_at"`
	ClaimedAt        *time.Time `json:"claimed_at,omitempty"`
	CompletedAt      time.Time  `json:"completed_at"`
	ClaimedBy        *uuid.UUID `json:"claimed_by,omitempty"`
	Success          bool       `json:"success"`
	RetriesAttempted int        `json:"retries_attempted"`
	ResultMessage    *string    `json:"result_message,omitempty"`
	YAMLContent      string     `json:"yaml_content"`
}

// BackoffDuration computes the delay before the (retryCount)th retry, per
// §4.2: base backoffSeconds doubled once per attempt.
func BackoffDuration(backoffSeconds, retryCount int) time.Duration {
	multiplier := int64(1) << uint(retryCount)
	return time.Duration(int64(backoffSeconds)*multiplier) * time.Second
}
