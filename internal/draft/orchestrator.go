// Package draft builds character drafts field by field through an LLM,
// repairs malformed structured output, and runs a bounded validate-and-fix
// loop over the result.
package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/halcyonwood/inkwell/internal/events"
	"github.com/halcyonwood/inkwell/internal/logger"
	"github.com/halcyonwood/inkwell/internal/roleplay"
)

// Completer abstracts the single LLM call the draft pipeline repeats: one
// prompt in, one completion out. The production implementation routes the
// prompt through an assistant-mode chat so the backend's function-calling
// system prompt applies.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Draft pipeline statuses carried on progress events.
const (
	StatusStarted         = "started"
	StatusGeneratingField = "generating_field"
	StatusFieldDone       = "field_done"
	StatusValidating      = "validating"
	StatusCorrecting      = "correcting"
	StatusComplete        = "complete"
	StatusFailed          = "validation_failed"
)

// Progress is one state transition of a draft run.
type Progress struct {
	Status  string `json:"status"`
	Field   string `json:"field,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result is the terminal state of a draft run. On validation failure the
// draft is the last produced value, not a rollback.
type Result struct {
	Success bool                `json:"success"`
	Draft   roleplay.DraftState `json:"draft"`
	Errors  []FieldError        `json:"errors,omitempty"`
}

type Orchestrator struct {
	completer Completer
	validate  *validator.Validate
	sink      events.Sink
	log       *logger.Logger

	maxAttempts int
}

func NewOrchestrator(completer Completer, sink events.Sink, log *logger.Logger, maxAttempts int) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Orchestrator{
		completer:   completer,
		validate:    validator.New(),
		sink:        sink,
		log:         log.With("component", "draft"),
		maxAttempts: maxAttempts,
	}
}

func (o *Orchestrator) emit(ctx context.Context, channel string, p Progress) {
	if o.sink == nil {
		return
	}
	o.sink.Emit(ctx, events.Event{
		Channel: channel,
		Type:    events.TypeDraftProgress,
		Data:    p,
	})
}

var fieldInstructions = map[string]string{
	FieldName:               "Invent a fitting name for the character. Respond with the name only.",
	FieldDescription:        "Write the character's physical and background description in 2-4 paragraphs.",
	FieldPersonality:        "Describe the character's personality, quirks and speech style in one paragraph.",
	FieldScenario:           "Describe the scenario the character exists in, in one paragraph.",
	FieldFirstMessage:       "Write the character's opening message to the user, in character.",
	FieldAlternateGreetings: "Write 2-4 alternate opening messages. Respond with a JSON array of strings.",
	FieldExampleDialogues:   "Write 2-4 short example dialogue exchanges. Respond with a JSON array of strings.",
	FieldSources:            "List inspirations or source material for this character. Respond with a JSON array of strings.",
}

// Run executes one draft-generation request: populate missing fields, then
// validate and correct until the draft passes or attempts run out. chatChannel
// scopes the progress events.
func (o *Orchestrator) Run(ctx context.Context, chatChannel string, current roleplay.DraftState, request string, requested []string) Result {
	o.emit(ctx, chatChannel, Progress{Status: StatusStarted})

	d := current

	for _, field := range o.fieldsToFill(&d, requested) {
		o.emit(ctx, chatChannel, Progress{Status: StatusGeneratingField, Field: field})

		out, err := o.completer.Complete(ctx, o.fieldPrompt(&d, field, request))
		if err != nil {
			o.log.Warn("field generation failed", "field", field, "err", err)
			o.emit(ctx, chatChannel, Progress{Status: StatusGeneratingField, Field: field, Error: err.Error()})
			continue
		}

		if arrayFields[field] {
			arr, ok := RepairStringArray(out)
			if !ok {
				// repair exhausted; an empty array beats failing the draft
				o.log.Warn("array repair exhausted", "field", field)
				arr = []string{}
			}
			setFieldValue(&d, field, "", arr)
		} else {
			setFieldValue(&d, field, strings.TrimSpace(out), nil)
		}
		o.emit(ctx, chatChannel, Progress{Status: StatusFieldDone, Field: field})
	}

	var errs []FieldError
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		o.emit(ctx, chatChannel, Progress{Status: StatusValidating, Attempt: attempt})
		errs = Validate(o.validate, &d)
		if len(errs) == 0 {
			o.emit(ctx, chatChannel, Progress{Status: StatusComplete})
			return Result{Success: true, Draft: d}
		}

		correctable := false
		for _, fe := range errs {
			if fe.Correctable {
				correctable = true
				break
			}
		}
		if !correctable || attempt == o.maxAttempts {
			break
		}

		for _, fe := range errs {
			if !fe.Correctable {
				continue
			}
			o.emit(ctx, chatChannel, Progress{Status: StatusCorrecting, Field: fe.Field, Attempt: attempt})
			o.correctField(ctx, &d, fe)
		}
	}

	o.emit(ctx, chatChannel, Progress{Status: StatusFailed})
	return Result{Success: false, Draft: d, Errors: errs}
}

// fieldsToFill returns required fields not yet present plus requested
// optional fields not yet present, scalars before arrays so later prompts
// see a richer partial draft.
func (o *Orchestrator) fieldsToFill(d *roleplay.DraftState, requested []string) []string {
	want := map[string]bool{}
	for _, f := range requiredFields {
		want[f] = true
	}
	for _, f := range requested {
		if scalarFields[f] || arrayFields[f] {
			want[f] = true
		}
	}

	ordered := []string{
		FieldName, FieldDescription, FieldPersonality, FieldScenario,
		FieldFirstMessage, FieldAlternateGreetings, FieldExampleDialogues, FieldSources,
	}
	var out []string
	for _, f := range ordered {
		if want[f] && !fieldPopulated(d, f) {
			out = append(out, f)
		}
	}
	return out
}

func (o *Orchestrator) fieldPrompt(d *roleplay.DraftState, field, request string) string {
	var b strings.Builder
	b.WriteString("The user wants a character matching this request:\n")
	b.WriteString(request)

	if raw, err := json.Marshal(d); err == nil && string(raw) != "{}" {
		b.WriteString("\n\nThe draft so far (JSON):\n")
		b.Write(raw)
	}

	b.WriteString("\n\nTask: ")
	b.WriteString(fieldInstructions[field])
	return b.String()
}

// correctField asks the LLM to rewrite one field so it satisfies the
// violated constraint. A failed rewrite keeps the previous value.
func (o *Orchestrator) correctField(ctx context.Context, d *roleplay.DraftState, fe FieldError) {
	scalar, array := fieldValue(d, fe.Field)

	var task string
	switch {
	case scalarFields[fe.Field] && fe.Constraint == "max":
		task = fmt.Sprintf("Rewrite the following %s to be shorter than %s characters while keeping its substance:\n%s", fe.Field, fe.Param, scalar)
	case scalarFields[fe.Field] && fe.Constraint == "min":
		task = fmt.Sprintf("Expand the following %s to at least %s characters:\n%s", fe.Field, fe.Param, scalar)
	case arrayFields[fe.Field] && fe.Element && fe.Constraint == "min":
		// constraint on an element's length, not the entry count
		task = fmt.Sprintf("Rewrite the following list of %s so every entry is at least %s characters. Respond with a JSON array of strings:\n%s", fe.Field, fe.Param, marshalArray(array))
	case arrayFields[fe.Field] && fe.Element:
		task = fmt.Sprintf("Rewrite the following list of %s so every entry is shorter than %s characters while keeping its substance. Respond with a JSON array of strings:\n%s", fe.Field, fe.Param, marshalArray(array))
	case arrayFields[fe.Field] && fe.Constraint == "max":
		task = fmt.Sprintf("The following list of %s has too many entries; keep the best %s. Respond with a JSON array of strings:\n%s", fe.Field, fe.Param, marshalArray(array))
	case arrayFields[fe.Field] && fe.Constraint == "min":
		task = fmt.Sprintf("Extend the following list of %s to at least %s entries. Respond with a JSON array of strings:\n%s", fe.Field, fe.Param, marshalArray(array))
	default:
		task = fmt.Sprintf("Rewrite the following %s to satisfy %s=%s:\n%s", fe.Field, fe.Constraint, fe.Param, scalar)
	}

	out, err := o.completer.Complete(ctx, task)
	if err != nil {
		o.log.Warn("correction call failed", "field", fe.Field, "err", err)
		return
	}
	if arrayFields[fe.Field] {
		if arr, ok := RepairStringArray(out); ok {
			setFieldValue(d, fe.Field, "", arr)
		}
		return
	}
	if trimmed := strings.TrimSpace(out); trimmed != "" {
		setFieldValue(d, fe.Field, trimmed, nil)
	}
}

func marshalArray(arr []string) string {
	raw, err := json.Marshal(arr)
	if err != nil {
		return "[]"
	}
	return string(raw)
}
