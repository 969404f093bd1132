package draft

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/halcyonwood/inkwell/internal/roleplay"
)

// FieldError is one schema violation found while validating a draft.
type FieldError struct {
	Field       string `json:"field"`
	Constraint  string `json:"constraint"` // validator tag: min, max, required
	Param       string `json:"param"`
	Message     string `json:"message"`
	Correctable bool   `json:"correctable"`

	// Element marks a constraint on an array element rather than on the
	// array itself; min=4 on sources[2] bounds characters, not entries
	Element bool `json:"element,omitempty"`
}

// Required draft fields; the rest are filled only when requested.
var requiredFields = []string{FieldName, FieldDescription}

// Field names as they appear in prompts, progress events and errors.
const (
	FieldName               = "name"
	FieldDescription        = "description"
	FieldPersonality        = "personality"
	FieldScenario           = "scenario"
	FieldFirstMessage       = "first_message"
	FieldAlternateGreetings = "alternate_greetings"
	FieldExampleDialogues   = "example_dialogues"
	FieldSources            = "sources"
)

var scalarFields = map[string]bool{
	FieldName:         true,
	FieldDescription:  true,
	FieldPersonality:  true,
	FieldScenario:     true,
	FieldFirstMessage: true,
}

var arrayFields = map[string]bool{
	FieldAlternateGreetings: true,
	FieldExampleDialogues:   true,
	FieldSources:            true,
}

func fieldValue(d *roleplay.DraftState, field string) (string, []string) {
	switch field {
	case FieldName:
		return d.Name, nil
	case FieldDescription:
		return d.Description, nil
	case FieldPersonality:
		return d.Personality, nil
	case FieldScenario:
		return d.Scenario, nil
	case FieldFirstMessage:
		return d.FirstMessage, nil
	case FieldAlternateGreetings:
		return "", d.AlternateGreetings
	case FieldExampleDialogues:
		return "", d.ExampleDialogues
	case FieldSources:
		return "", d.Sources
	}
	return "", nil
}

func setFieldValue(d *roleplay.DraftState, field, scalar string, array []string) {
	switch field {
	case FieldName:
		d.Name = scalar
	case FieldDescription:
		d.Description = scalar
	case FieldPersonality:
		d.Personality = scalar
	case FieldScenario:
		d.Scenario = scalar
	case FieldFirstMessage:
		d.FirstMessage = scalar
	case FieldAlternateGreetings:
		d.AlternateGreetings = array
	case FieldExampleDialogues:
		d.ExampleDialogues = array
	case FieldSources:
		d.Sources = array
	}
}

func fieldPopulated(d *roleplay.DraftState, field string) bool {
	scalar, array := fieldValue(d, field)
	if scalarFields[field] {
		return strings.TrimSpace(scalar) != ""
	}
	return len(array) > 0
}

// Validate checks the draft against its schema tags and classifies each
// failure. Length violations on populated fields can be corrected by a
// rewrite pass; a required field that stayed empty cannot.
func Validate(v *validator.Validate, d *roleplay.DraftState) []FieldError {
	var out []FieldError

	for _, f := range requiredFields {
		if !fieldPopulated(d, f) {
			out = append(out, FieldError{
				Field:       f,
				Constraint:  "required",
				Message:     fmt.Sprintf("%s must be populated", f),
				Correctable: false,
			})
		}
	}

	err := v.Struct(d)
	if err == nil {
		return out
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		out = append(out, FieldError{
			Field:       "",
			Constraint:  "invalid",
			Message:     err.Error(),
			Correctable: false,
		})
		return out
	}

	for _, ve := range verrs {
		structField := ve.StructField()
		element := strings.IndexByte(structField, '[') >= 0
		field := jsonFieldName(structField)
		correctable := ve.Tag() == "min" || ve.Tag() == "max"
		out = append(out, FieldError{
			Field:       field,
			Constraint:  ve.Tag(),
			Param:       ve.Param(),
			Message:     fmt.Sprintf("%s violates %s=%s", field, ve.Tag(), ve.Param()),
			Correctable: correctable,
			Element:     element,
		})
	}
	return out
}

// jsonFieldName maps a DraftState struct field to its prompt/JSON name.
// Dive errors report element fields like "Sources[2]"; the index is folded
// into the parent field.
func jsonFieldName(structField string) string {
	if i := strings.IndexByte(structField, '['); i >= 0 {
		structField = structField[:i]
	}
	switch structField {
	case "Name":
		return FieldName
	case "Description":
		return FieldDescription
	case "Personality":
		return FieldPersonality
	case "Scenario":
		return FieldScenario
	case "FirstMessage":
		return FieldFirstMessage
	case "AlternateGreetings":
		return FieldAlternateGreetings
	case "ExampleDialogues":
		return FieldExampleDialogues
	case "Sources":
		return FieldSources
	}
	return strings.ToLower(structField)
}
