package stack

import (
	"time"

	"github.com/google/uuid"

	"github.com/colliery-io/brokkr-sub000/pkg/labeling"
)

// CreateRequest is the JSON body for POST /api/v1/stacks.
type CreateRequest struct {
	Name        string                `json:"name" validate:"required,min=1,max=255"`
	Description string                `json:"description"`
	GeneratorID uuid.UUID             `json:"generator_id" validate:"required"`
	Labels      []string              `json:"labels"`
	Annotations []labeling.Annotation `json:"annotations"`
}

// UpdateRequest is the JSON body for PUT /api/v1/stacks/{id}.
type UpdateRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Description string `json:"description"`
}

// Response is the JSON response for a single stack.
type Response struct {
	ID          uuid.UUID             `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	GeneratorID uuid.UUID             `json:"generator_id"`
	Labels      []string              `json:"labels"`
	Annotations []labeling.Annotation `json:"annotations"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}
