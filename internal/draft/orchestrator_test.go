package draft

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/halcyonwood/inkwell/internal/events"
	"github.com/halcyonwood/inkwell/internal/roleplay"
)

type scriptedCompleter struct {
	respond func(prompt string) (string, error)
	calls   []string
}

func (c *scriptedCompleter) Complete(_ context.Context, prompt string) (string, error) {
	c.calls = append(c.calls, prompt)
	return c.respond(prompt)
}

type recordingSink struct {
	events []events.Event
}

func (s *recordingSink) Emit(_ context.Context, ev events.Event) {
	s.events = append(s.events, ev)
}

func (s *recordingSink) statuses() []string {
	var out []string
	for _, ev := range s.events {
		p, ok := ev.Data.(Progress)
		if !ok {
			continue
		}
		out = append(out, p.Status)
	}
	return out
}

func (s *recordingSink) count(status string) int {
	n := 0
	for _, st := range s.statuses() {
		if st == status {
			n++
		}
	}
	return n
}

const goodDescription = "A wandering cartographer with ink-stained fingers and a memory for every road she has ever walked."

func TestRunFillsRequiredFields(t *testing.T) {
	comp := &scriptedCompleter{respond: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Invent a fitting name"):
			return "  Vex  ", nil
		case strings.Contains(prompt, "background description"):
			return goodDescription, nil
		}
		return "", errors.New("unexpected prompt: " + prompt)
	}}
	sink := &recordingSink{}

	res := NewOrchestrator(comp, sink, nil, 3).Run(context.Background(), "chat:c1", roleplay.DraftState{}, "a mapmaker", nil)

	if !res.Success {
		t.Fatalf("Run failed: %+v", res.Errors)
	}
	if res.Draft.Name != "Vex" {
		t.Fatalf("name = %q, want trimmed Vex", res.Draft.Name)
	}
	if res.Draft.Description != goodDescription {
		t.Fatalf("description = %q", res.Draft.Description)
	}
	if len(comp.calls) != 2 {
		t.Fatalf("completer called %d times, want 2", len(comp.calls))
	}
	st := sink.statuses()
	if len(st) == 0 || st[0] != StatusStarted || st[len(st)-1] != StatusComplete {
		t.Fatalf("event sequence = %v", st)
	}
	if sink.count(StatusFieldDone) != 2 {
		t.Fatalf("field_done count = %d, want 2", sink.count(StatusFieldDone))
	}
}

func TestRunSkipsPopulatedFieldsAndFillsRequested(t *testing.T) {
	comp := &scriptedCompleter{respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "inspirations or source material") {
			return "Sure, here you go: [\"norse myth\", \"old sea charts\"]", nil
		}
		return "", errors.New("unexpected prompt: " + prompt)
	}}

	current := roleplay.DraftState{Name: "Vex", Description: goodDescription}
	res := NewOrchestrator(comp, nil, nil, 3).Run(context.Background(), "chat:c1", current, "a mapmaker", []string{FieldSources})

	if !res.Success {
		t.Fatalf("Run failed: %+v", res.Errors)
	}
	if len(comp.calls) != 1 {
		t.Fatalf("completer called %d times, want 1 (sources only)", len(comp.calls))
	}
	if len(res.Draft.Sources) != 2 || res.Draft.Sources[0] != "norse myth" {
		t.Fatalf("sources = %v", res.Draft.Sources)
	}
	// later prompts must see the partial draft
	if !strings.Contains(comp.calls[0], "Vex") {
		t.Fatalf("prompt does not carry the partial draft:\n%s", comp.calls[0])
	}
}

func TestArrayRepairExhaustedFallsBackToEmpty(t *testing.T) {
	comp := &scriptedCompleter{respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "inspirations or source material") {
			return "I cannot produce a list for that.", nil
		}
		return "", errors.New("unexpected prompt")
	}}

	current := roleplay.DraftState{Name: "Vex", Description: goodDescription}
	res := NewOrchestrator(comp, nil, nil, 3).Run(context.Background(), "chat:c1", current, "a mapmaker", []string{FieldSources})

	if !res.Success {
		t.Fatalf("empty array should still validate: %+v", res.Errors)
	}
	if res.Draft.Sources == nil || len(res.Draft.Sources) != 0 {
		t.Fatalf("sources = %#v, want empty array", res.Draft.Sources)
	}
}

func TestValidationRetryStopsAtMaxAttempts(t *testing.T) {
	comp := &scriptedCompleter{respond: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Invent a fitting name"):
			return "Vex", nil
		case strings.Contains(prompt, "background description"),
			strings.Contains(prompt, "Expand the following description"):
			return "too short", nil
		}
		return "", errors.New("unexpected prompt")
	}}
	sink := &recordingSink{}

	res := NewOrchestrator(comp, sink, nil, 3).Run(context.Background(), "chat:c1", roleplay.DraftState{}, "a mapmaker", nil)

	if res.Success {
		t.Fatal("expected validation failure")
	}
	if len(res.Errors) == 0 {
		t.Fatal("expected field errors on failure")
	}
	fe := res.Errors[0]
	if fe.Field != FieldDescription || fe.Constraint != "min" || !fe.Correctable {
		t.Fatalf("unexpected error: %+v", fe)
	}
	// the last produced value stays on the draft
	if res.Draft.Description != "too short" {
		t.Fatalf("description = %q, want the failing value preserved", res.Draft.Description)
	}
	if got := sink.count(StatusValidating); got != 3 {
		t.Fatalf("validating attempts = %d, want 3", got)
	}
	if got := sink.count(StatusCorrecting); got != 2 {
		t.Fatalf("correcting events = %d, want 2", got)
	}
	st := sink.statuses()
	if st[len(st)-1] != StatusFailed {
		t.Fatalf("final status = %q, want %q", st[len(st)-1], StatusFailed)
	}
}

func TestCorrectionRepairsFieldOnSecondAttempt(t *testing.T) {
	comp := &scriptedCompleter{respond: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Invent a fitting name"):
			return "Vex", nil
		case strings.Contains(prompt, "Expand the following description"):
			return goodDescription, nil
		case strings.Contains(prompt, "background description"):
			return "too short", nil
		}
		return "", errors.New("unexpected prompt")
	}}
	sink := &recordingSink{}

	res := NewOrchestrator(comp, sink, nil, 3).Run(context.Background(), "chat:c1", roleplay.DraftState{}, "a mapmaker", nil)

	if !res.Success {
		t.Fatalf("correction should have fixed the draft: %+v", res.Errors)
	}
	if res.Draft.Description != goodDescription {
		t.Fatalf("description = %q", res.Draft.Description)
	}
	if got := sink.count(StatusValidating); got != 2 {
		t.Fatalf("validating attempts = %d, want 2", got)
	}
}

func TestUncorrectableErrorStopsImmediately(t *testing.T) {
	comp := &scriptedCompleter{respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "Invent a fitting name") {
			return "Vex", nil
		}
		return "", errors.New("backend unreachable")
	}}
	sink := &recordingSink{}

	res := NewOrchestrator(comp, sink, nil, 3).Run(context.Background(), "chat:c1", roleplay.DraftState{}, "a mapmaker", nil)

	if res.Success {
		t.Fatal("expected failure with an empty required field")
	}
	if got := sink.count(StatusValidating); got != 1 {
		t.Fatalf("validating attempts = %d, want 1 (required error is not correctable)", got)
	}
	found := false
	for _, fe := range res.Errors {
		if fe.Field == FieldDescription && fe.Constraint == "required" && !fe.Correctable {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing required error for description: %+v", res.Errors)
	}
}
