package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Validator holds one compiled JSON schema.
type Validator struct {
	name   string
	schema *gojsonschema.Schema
}

// NewValidator compiles schemaJSON once so it can be reused across requests.
func NewValidator(name, schemaJSON string) (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Validator{name: name, schema: schema}, nil
}

// MustValidator panics on an invalid schema; use only for package-level schemas.
func MustValidator(name, schemaJSON string) *Validator {
	v, err := NewValidator(name, schemaJSON)
	if err != nil {
		panic(err)
	}
	return v
}

func (v *Validator) Name() string { return v.name }

// ValidateBytes validates a raw JSON document. Malformed JSON is reported as a
// single PARSE_ERROR entry.
func (v *Validator) ValidateBytes(doc []byte) *ValidationResult {
	if !json.Valid(doc) {
		return &ValidationResult{
			Valid:  false,
			Errors: []ValidationError{{Field: "(root)", Message: "document is not valid JSON", Code: "PARSE_ERROR"}},
		}
	}
	return v.validate(gojsonschema.NewBytesLoader(doc))
}

// ValidateGo validates an already decoded value.
func (v *Validator) ValidateGo(doc interface{}) *ValidationResult {
	return v.validate(gojsonschema.NewGoLoader(doc))
}

func (v *Validator) validate(loader gojsonschema.JSONLoader) *ValidationResult {
	result, err := v.schema.Validate(loader)
	if err != nil {
		return &ValidationResult{
			Valid:  false,
			Errors: []ValidationError{{Field: "(root)", Message: err.Error(), Code: "PARSE_ERROR"}},
		}
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	return out
}

// Err returns nil for a valid result, otherwise one error listing every violation.
func (vr *ValidationResult) Err() error {
	if vr == nil || vr.Valid {
		return nil
	}
	return fmt.Errorf("validation failed: %s", strings.Join(vr.GetErrorMessages(), "; "))
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}
