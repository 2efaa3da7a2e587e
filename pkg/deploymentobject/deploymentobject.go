// Package deploymentobject implements immutable manifest snapshots and the
// router that computes the set an agent must currently apply.
package deploymentobject

import (
	"time"

	"github.com/google/uuid"
)

// Mode selects how the router computes an agent's applicable set (§4.3).
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// CreateRequest is the JSON body for POST /api/v1/stacks/{id}/deployment-objects.
type CreateRequest struct {
	YAMLContent      string `json:"yaml_content" validate:"required"`
	IsDeletionMarker bool   `json:"is_deletion_marker"`
}

// Response is the JSON response for a single deployment object.
type Response struct {
	ID               uuid.UUID `json:"id"`
	StackID          uuid.UUID `json:"stack_id"`
	YAMLContent      string    `json:"yaml_content"`
	YAMLChecksum     string    `json:"yaml_checksum"`
	SequenceID       int64     `json:"sequence_id"`
	IsDeletionMarker bool      `json:"is_deletion_marker"`
	SubmittedAt      time.Time `json:"submitted_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}
