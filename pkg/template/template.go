// Package template implements the reusable parameterized manifest engine:
// versioned templates, compatibility matching against stacks, and rendering.
package template

import (
	"time"

	"github.com/google/uuid"

	"github.com/colliery-io/brokkr-sub000/pkg/labeling"
)

// CreateRequest is the JSON body for POST /api/v1/templates.
type CreateRequest struct {
	GeneratorID      *uuid.UUID            `json:"generator_id"`
	Name             string                `json:"name" validate:"required,min=1,max=255"`
	Description      string                `json:"description"`
	TemplateContent  string                `json:"template_content" validate:"required"`
	ParametersSchema string                `json:"parameters_schema" validate:"required"`
	Labels           []string              `json:"labels"`
	Annotations      []labeling.Annotation `json:"annotations"`
}

// InstantiateRequest is the JSON body for
// POST /api/v1/stacks/{id}/instantiate-template.
type InstantiateRequest struct {
	TemplateID uuid.UUID      `json:"template_id" validate:"required"`
	Parameters map[string]any `json:"parameters"`
}

// Response is the JSON response for a single template version.
type Response struct {
	ID               uuid.UUID             `json:"id"`
	GeneratorID      *uuid.UUID            `json:"generator_id,omitempty"`
	Name             string                `json:"name"`
	Description      string                `json:"description"`
	Version          int                   `json:"version"`
	TemplateContent  string                `json:"template_content"`
	ParametersSchema string                `json:"parameters_schema"`
	Checksum         string                `json:"checksum"`
	Labels           []string              `json:"labels"`
	Annotations      []labeling.Annotation `json:"annotations"`
	CreatedAt        time.Time             `json:"created_at"`
}

// IsSystemTemplate reports whether a template has no owning generator,
// making it admin-only to mutate and readable by all generators.
func (r Response) IsSystemTemplate() bool {
	return r.GeneratorID == nil
}
