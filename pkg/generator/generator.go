package generator

import (
	"time"

	"github.com/google/uuid"
)

// CreateRequest is the JSON body for POST /api/v1/generators.
type CreateRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Description string `json:"description"`
}

// UpdateRequest is the JSON body for PUT /api/v1/generators/{id}.
type UpdateRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Description string `json:"description"`
}

// Response is the JSON response for a single generator.
type Response struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateResponse includes the one-time plaintext PAK, shown only at creation.
type CreateResponse struct {
	Response
	PAK string `json:"pak"`
}
