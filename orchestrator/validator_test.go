package orchestrator

import (
	"encoding/json"
	"strings"
	"testing"

	agentrouter "github.com/relay-labs/agent-router"
	"github.com/relay-labs/agent-router/agents"
)

func TestValidateRequiredFields(t *testing.T) {
	v := NewValidator(agentrouter.ValidatorConfig{})
	desc := agents.Descriptor{Name: "a", RequiredFields: []string{"answer", "source"}}

	verdict := v.Validate(CheckInput{
		Agent:  desc,
		Output: map[string]any{"answer": "42", "source": "manual"},
	})
	if !verdict.IsValid || len(verdict.Issues) != 0 {
		t.Fatalf("expected clean verdict, got %+v", verdict)
	}

	verdict = v.Validate(CheckInput{
		Agent:  desc,
		Output: map[string]any{"answer": "  ", "extra": 1},
	})
	if verdict.IsValid {
		t.Fatal("expected invalid verdict for missing fields")
	}
	if len(verdict.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %v", verdict.Issues)
	}
	if verdict.FieldScores["answer"] != 0 {
		t.Fatalf("expected zero field score, got %v", verdict.FieldScores)
	}
}

func TestValidateConfidenceThreshold(t *testing.T) {
	v := NewValidator(agentrouter.ValidatorConfig{ConfidenceThreshold: 0.6})

	verdict := v.Validate(CheckInput{
		Agent:  agents.Descriptor{Name: "a"},
		Output: map[string]any{"confidence_score": 0.4},
	})
	if verdict.IsValid {
		t.Fatal("expected invalid verdict below threshold")
	}
	if verdict.ConfidenceScore != 0.4 {
		t.Fatalf("expected confidence 0.4, got %v", verdict.ConfidenceScore)
	}

	verdict = v.Validate(CheckInput{
		Agent:  agents.Descriptor{Name: "a"},
		Output: map[string]any{"confidence_score": 0.9},
	})
	if !verdict.IsValid {
		t.Fatalf("expected valid verdict, got %+v", verdict)
	}
}

func TestValidateOutputSchema(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"required": ["result"],
		"properties": {"result": {"type": "number"}}
	}`)
	desc := agents.Descriptor{Name: "calc", OutputSchema: schema}

	t.Run("lenient records issues", func(t *testing.T) {
		v := NewValidator(agentrouter.ValidatorConfig{})
		verdict := v.Validate(CheckInput{Agent: desc, Output: map[string]any{"result": "not a number"}})
		if !verdict.IsValid {
			t.Fatalf("lenient mode must not fail the verdict: %+v", verdict)
		}
		if len(verdict.Issues) == 0 {
			t.Fatal("expected schema issues recorded")
		}
	})

	t.Run("strict fails", func(t *testing.T) {
		v := NewValidator(agentrouter.ValidatorConfig{Strict: true})
		verdict := v.Validate(CheckInput{Agent: desc, Output: map[string]any{"wrong": true}})
		if verdict.IsValid {
			t.Fatalf("strict mode must fail on violation: %+v", verdict)
		}
	})

	t.Run("conforming output", func(t *testing.T) {
		v := NewValidator(agentrouter.ValidatorConfig{Strict: true})
		verdict := v.Validate(CheckInput{Agent: desc, Output: map[string]any{"result": 42.0}})
		if !verdict.IsValid || len(verdict.Issues) != 0 {
			t.Fatalf("expected clean verdict, got %+v", verdict)
		}
	})
}

func TestValidateForbiddenContent(t *testing.T) {
	v := NewValidator(agentrouter.ValidatorConfig{})
	verdict := v.Validate(CheckInput{
		Agent:  agents.Descriptor{Name: "a"},
		Output: map[string]any{"text": "As an AI language model, I cannot help."},
	})
	if verdict.IsValid {
		t.Fatal("expected forbidden-content failure")
	}
}

func TestValidateAnchoring(t *testing.T) {
	v := NewValidator(agentrouter.ValidatorConfig{})

	t.Run("anchored claims pass", func(t *testing.T) {
		verdict := v.Validate(CheckInput{
			Agent:   agents.Descriptor{Name: "a"},
			Output:  map[string]any{"summary": "Revenue was 1200 in Berlin"},
			Context: map[string]any{"report": "Berlin office reported revenue of 1200."},
		})
		if verdict.HallucinationDetected {
			t.Fatalf("anchored output flagged: %+v", verdict)
		}
	})

	t.Run("unanchored claims flagged", func(t *testing.T) {
		verdict := v.Validate(CheckInput{
			Agent:   agents.Descriptor{Name: "a"},
			Output:  map[string]any{"summary": "Revenue hit 99999 under Chairman Vex in 1811"},
			Context: map[string]any{"report": "Routine quarter, nothing notable."},
		})
		if !verdict.HallucinationDetected {
			t.Fatalf("expected hallucination flag, got %+v", verdict)
		}
		if verdict.ConfidenceScore >= 0.5 {
			t.Fatalf("expected low confidence, got %v", verdict.ConfidenceScore)
		}
	})

	t.Run("no context skips check", func(t *testing.T) {
		verdict := v.Validate(CheckInput{
			Agent:  agents.Descriptor{Name: "a"},
			Output: map[string]any{"summary": "Unverifiable number 424242"},
		})
		if verdict.HallucinationDetected {
			t.Fatal("anchoring must be skipped without context")
		}
	})
}

func TestValidatorCustomCheck(t *testing.T) {
	v := NewValidator(agentrouter.ValidatorConfig{})
	v.Register(checkFunc(func(in CheckInput, verdict *Verdict) {
		if s, _ := in.Output["text"].(string); strings.Contains(s, "forbidden") {
			verdict.Issues = append(verdict.Issues, "custom: forbidden token")
			verdict.IsValid = false
		}
	}))

	verdict := v.Validate(CheckInput{
		Agent:  agents.Descriptor{Name: "a"},
		Output: map[string]any{"text": "contains forbidden token"},
	})
	if verdict.IsValid {
		t.Fatal("custom check did not run")
	}
}

// checkFunc adapts a function to the Check interface.
type checkFunc func(CheckInput, *Verdict)

func (f checkFunc) Name() string                  { return "custom" }
func (f checkFunc) Run(in CheckInput, v *Verdict) { f(in, v) }
