package template

import (
	"bytes"
	"context"
	"encoding/json"
	gotemplate "text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/colliery-io/brokkr-sub000/internal/brokerr"
)

// ValidateSyntax performs a template-syntax check without parameter binding,
// per §4.4 step 1: the body must parse, but need not execute successfully
// against any particular parameter set.
func ValidateSyntax(content string) error {
	if _, err := gotemplate.New("template").Funcs(sprig.TxtFuncMap()).Parse(content); err != nil {
		return brokerr.Wrap(brokerr.KindInvalid, "template_content is not syntactically valid", err)
	}
	return nil
}

// ValidateSchema confirms schemaText is a well-formed JSON Schema, per
// §4.4 step 2.
func ValidateSchema(schemaText string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal([]byte(schemaText), &doc); err != nil {
		return nil, brokerr.Wrap(brokerr.KindInvalid, "parameters_schema is not valid JSON", err)
	}
	if err := compiler.AddResource("parameters_schema.json", doc); err != nil {
		return nil, brokerr.Wrap(brokerr.KindInvalid, "parameters_schema could not be loaded", err)
	}
	schema, err := compiler.Compile("parameters_schema.json")
	if err != nil {
		return nil, brokerr.Wrap(brokerr.KindInvalid, "parameters_schema is not a well-formed JSON Schema", err)
	}
	return schema, nil
}

// ValidateParameters validates parameters against a compiled schema,
// per §4.4 step 3.
func ValidateParameters(schemaText string, parameters map[string]any) error {
	schema, err := ValidateSchema(schemaText)
	if err != nil {
		return err
	}
	if parameters == nil {
		parameters = map[string]any{}
	}
	if err := schema.Validate(parameters); err != nil {
		return brokerr.Wrap(brokerr.KindUnprocessable, "parameters do not satisfy parameters_schema", err)
	}
	return nil
}

// Render executes templateContent with parameters, per §4.4 step 4.
func Render(ctx context.Context, templateContent string, parameters map[string]any) (string, error) {
	tmpl, err := gotemplate.New("manifest").Funcs(sprig.TxtFuncMap()).Parse(templateContent)
	if err != nil {
		return "", brokerr.Wrap(brokerr.KindInvalid, "template_content is not syntactically valid", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, parameters); err != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		return "", brokerr.Wrap(brokerr.KindUnprocessable, "template_content failed to render with the given parameters", err)
	}
	return buf.String(), nil
}
