package template

import "testing"

func TestChecksum_ChangesWithContentOrSchema(t *testing.T) {
	a := checksum("kind: Deployment", `{"type":"object"}`)
	b := checksum("kind: Deployment", `{"type":"object"}`)
	c := checksum("kind: StatefulSet", `{"type":"object"}`)
	d := checksum("kind: Deployment", `{"type":"string"}`)

	if a != b {
		t.Fatal("checksum must be deterministic")
	}
	if a == c {
		t.Fatal("checksum must change with template_content")
	}
	if a == d {
		t.Fatal("checksum must change with parameters_schema")
	}
}

func TestValidateSyntax_RejectsMalformedTemplate(t *testing.T) {
	if err := ValidateSyntax("{{ .Name "); err == nil {
		t.Fatal("expected malformed template syntax to be rejected")
	}
}

func TestValidateSchema_RejectsMalformedJSON(t *testing.T) {
	if _, err := ValidateSchema("not json"); err == nil {
		t.Fatal("expected malformed schema JSON to be rejected")
	}
}

func TestValidateParameters_RejectsMissingRequiredField(t *testing.T) {
	schema := `{"type":"object","required":["replicas"],"properties":{"replicas":{"type":"integer"}}}`
	if err := ValidateParameters(schema, map[string]any{}); err == nil {
		t.Fatal("expected missing required parameter to be rejected")
	}
	if err := ValidateParameters(schema, map[string]any{"replicas": 3}); err != nil {
		t.Fatalf("valid parameters rejected: %v", err)
	}
}
