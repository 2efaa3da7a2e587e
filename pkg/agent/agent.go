package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/colliery-io/brokkr-sub000/pkg/labeling"
)

// Status values an agent may report.
const (
	StatusInactive = "INACTIVE"
	StatusActive   = "ACTIVE"
)

// CreateRequest is the JSON body for POST /api/v1/agents.
type CreateRequest struct {
	Name        string              `json:"name" validate:"required,min=1,max=255"`
	ClusterName string              `json:"cluster_name" validate:"required,min=1,max=255"`
	Labels      []string            `json:"labels"`
	Annotations []labeling.Annotation `json:"annotations"`
}

// HeartbeatRequest is the JSON body for POST /api/v1/agents/{id}/heartbeat.
type HeartbeatRequest struct {
	Status string `json:"status" validate:"omitempty,oneof=INACTIVE ACTIVE"`
}

// TargetRequest is the JSON body for POST /api/v1/agents/{id}/targets.
type TargetRequest struct {
	StackID uuid.UUID `json:"stack_id" validate:"required"`
}

// Response is the JSON response for a single agent.
type Response struct {
	ID            uuid.UUID            `json:"id"`
	Name          string               `json:"name"`
	ClusterName   string               `json:"cluster_name"`
	Status        string               `json:"status"`
	LastHeartbeat *time.Time           `json:"last_heartbeat,omitempty"`
	Labels        []string             `json:"labels"`
	Annotations   []labeling.Annotation `json:"annotations"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// CreateResponse includes the one-time plaintext PAK, shown only at creation.
type CreateResponse struct {
	Response
	PAK string `json:"pak"`
}
