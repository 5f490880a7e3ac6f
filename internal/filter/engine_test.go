package filter

import (
	"errors"
	"reflect"
	"testing"

	"mailstore/internal/model"
)

func rule(name string, field model.FilterField, match model.MatchType, pattern string, action model.FilterAction) model.FilterRule {
	return model.FilterRule{
		Name: name, Field: field, Match: match, Pattern: pattern,
		Action: action, Enabled: true,
	}
}

func msg(subject, from, body string, to ...string) *model.Message {
	m := &model.Message{
		Subject:  subject,
		From:     model.EmailAddress{Address: from},
		BodyText: body,
	}
	for _, addr := range to {
		m.To = append(m.To, model.EmailAddress{Address: addr})
	}
	return m
}

func TestMultipleRulesAllContribute(t *testing.T) {
	engine, err := NewEngine([]model.FilterRule{
		rule("newsletters", model.FieldSubject, model.MatchContains, "newsletter",
			model.FilterAction{Type: model.ActionMarkAsRead}),
		rule("updates", model.FieldSubject, model.MatchContains, "update",
			model.FilterAction{Type: model.ActionAddTag, Arg: "updates"}),
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	actions := engine.Evaluate(msg("Weekly Newsletter Update", "news@example.com", ""))
	want := []model.FilterAction{
		{Type: model.ActionMarkAsRead},
		{Type: model.ActionAddTag, Arg: "updates"},
	}
	if !reflect.DeepEqual(actions, want) {
		t.Fatalf("actions = %+v, want %+v", actions, want)
	}
}

func TestDisabledRuleEmitsNothing(t *testing.T) {
	r := rule("disabled", model.FieldSubject, model.MatchContains, "test",
		model.FilterAction{Type: model.ActionDelete})
	r.Enabled = false

	engine, err := NewEngine([]model.FilterRule{r})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if actions := engine.Evaluate(msg("Test message", "a@example.com", "")); len(actions) != 0 {
		t.Fatalf("disabled rule produced actions: %+v", actions)
	}
}

func TestRegexMatching(t *testing.T) {
	r := rule("invoices", model.FieldSubject, model.MatchRegex, `INV-\d{4,}`,
		model.FilterAction{Type: model.ActionMoveToFolder, Arg: "Invoices"})
	r.CaseSensitive = true

	engine, err := NewEngine([]model.FilterRule{r})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if actions := engine.Evaluate(msg("Your INV-12345 is ready", "billing@example.com", "")); len(actions) != 1 {
		t.Fatalf("expected move action, got %+v", actions)
	}
	if actions := engine.Evaluate(msg("Your order #123 is ready", "billing@example.com", "")); len(actions) != 0 {
		t.Fatalf("non-matching subject produced actions: %+v", actions)
	}
	// Case-sensitive: lowercase must not match.
	if actions := engine.Evaluate(msg("your inv-12345 is ready", "billing@example.com", "")); len(actions) != 0 {
		t.Fatalf("case-sensitive regex matched lowercase: %+v", actions)
	}
}

func TestInvalidRegexIsRejectedAtCompile(t *testing.T) {
	_, err := NewEngine([]model.FilterRule{
		rule("bad", model.FieldSubject, model.MatchRegex, `INV-(\d`,
			model.FilterAction{Type: model.ActionDelete}),
	})
	if !IsRuleError(err) {
		t.Fatalf("expected RuleError, got %v", err)
	}
	var re *RuleError
	if !errors.As(err, &re) || re.Kind != KindInvalidRegex {
		t.Fatalf("wrong kind: %v", err)
	}
}

func TestUnknownFieldIsRejected(t *testing.T) {
	err := Validate(model.FilterRule{
		Name: "bad-field", Field: "attachment", Match: model.MatchContains, Pattern: "x",
	})
	var re *RuleError
	if !errors.As(err, &re) || re.Kind != KindUnknownField {
		t.Fatalf("expected unknown-field error, got %v", err)
	}
}

func TestCaseFolding(t *testing.T) {
	engine, err := NewEngine([]model.FilterRule{
		rule("ci", model.FieldSubject, model.MatchContains, "URGENT",
			model.FilterAction{Type: model.ActionAddTag, Arg: "urgent"}),
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if actions := engine.Evaluate(msg("this is urgent, please", "a@example.com", "")); len(actions) != 1 {
		t.Fatalf("case-insensitive contains missed: %+v", actions)
	}
}

func TestToFieldMatchesAnyRecipient(t *testing.T) {
	engine, err := NewEngine([]model.FilterRule{
		rule("team", model.FieldTo, model.MatchEquals, "team@example.com",
			model.FilterAction{Type: model.ActionAddTag, Arg: "team"}),
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	m := msg("s", "a@example.com", "", "other@example.com", "team@example.com")
	if actions := engine.Evaluate(m); len(actions) != 1 {
		t.Fatalf("second recipient not matched: %+v", actions)
	}
}

func TestEmptyBodyMatchesAsEmptyString(t *testing.T) {
	engine, err := NewEngine([]model.FilterRule{
		rule("empty", model.FieldBody, model.MatchEquals, "",
			model.FilterAction{Type: model.ActionAddTag, Arg: "no-body"}),
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if actions := engine.Evaluate(msg("s", "a@example.com", "")); len(actions) != 1 {
		t.Fatalf("missing body should evaluate as empty string: %+v", actions)
	}
}

func TestEvaluationIsDeterministic(t *testing.T) {
	engine, err := NewEngine([]model.FilterRule{
		rule("r1", model.FieldSubject, model.MatchContains, "a",
			model.FilterAction{Type: model.ActionAddTag, Arg: "one"}),
		rule("r2", model.FieldSubject, model.MatchContains, "b",
			model.FilterAction{Type: model.ActionAddTag, Arg: "two"}),
		rule("r3", model.FieldBody, model.MatchStartsWith, "hi",
			model.FilterAction{Type: model.ActionMarkAsRead}),
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	m := msg("about", "x@example.com", "hi there")
	first := engine.Evaluate(m)
	for i := 0; i < 10; i++ {
		if got := engine.Evaluate(m); !reflect.DeepEqual(got, first) {
			t.Fatalf("evaluation diverged on run %d: %+v vs %+v", i, got, first)
		}
	}
}
