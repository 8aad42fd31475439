package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	agentrouter "github.com/relay-labs/agent-router"
	"github.com/relay-labs/agent-router/agents"
)

// Verdict is the outcome of validating one step's output.
type Verdict struct {
	IsValid               bool               `json:"is_valid"`
	ConfidenceScore       float64            `json:"confidence_score"`
	HallucinationDetected bool               `json:"hallucination_detected"`
	Issues                []string           `json:"issues,omitempty"`
	FieldScores           map[string]float64 `json:"field_scores,omitempty"`
}

// Check is one semantic validation heuristic. Checks append issues to
// the verdict and may lower its confidence or flag a hallucination.
type Check interface {
	Name() string
	Run(in CheckInput, v *Verdict)
}

// CheckInput is what a semantic check sees for one step.
type CheckInput struct {
	Agent   agents.Descriptor
	Output  map[string]any
	Query   string
	Context map[string]any
}

// Validator runs schema validation followed by the semantic check chain.
type Validator struct {
	cfg    agentrouter.ValidatorConfig
	checks []Check

	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewValidator assembles the default check chain from config. Extra
// checks can be appended with Register.
func NewValidator(cfg agentrouter.ValidatorConfig) *Validator {
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	return &Validator{
		cfg: cfg,
		checks: []Check{
			requiredFieldsCheck{},
			confidenceCheck{threshold: threshold},
			forbiddenContentCheck{patterns: defaultForbiddenPatterns},
			anchoringCheck{},
		},
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register appends a semantic check to the chain.
func (v *Validator) Register(c Check) {
	v.checks = append(v.checks, c)
}

// Validate checks a step's output against the agent's declared output
// schema, then runs the semantic chain. In strict mode any schema
// violation makes the verdict invalid; otherwise violations are recorded
// as issues only.
func (v *Validator) Validate(in CheckInput) Verdict {
	verdict := Verdict{
		IsValid:         true,
		ConfidenceScore: 1,
		FieldScores:     make(map[string]float64),
	}

	if len(in.Agent.OutputSchema) > 0 {
		issues := v.schemaIssues(in.Agent, in.Output)
		verdict.Issues = append(verdict.Issues, issues...)
		if len(issues) > 0 && v.cfg.Strict {
			verdict.IsValid = false
		}
	}

	for _, c := range v.checks {
		c.Run(in, &verdict)
	}
	if verdict.HallucinationDetected {
		verdict.IsValid = false
	}
	return verdict
}

func (v *Validator) schemaIssues(desc agents.Descriptor, output map[string]any) []string {
	sch, err := v.schemaFor(desc)
	if err != nil {
		return []string{fmt.Sprintf("output_schema: %v", err)}
	}
	err = sch.Validate(normalize(output))
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var issues []string
	for _, cause := range flattenCauses(ve) {
		loc := cause.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		issues = append(issues, fmt.Sprintf("%s: %s", loc, cause.Message))
	}
	return issues
}

// schemaFor compiles and caches the agent's output schema.
func (v *Validator) schemaFor(desc agents.Descriptor) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if sch, ok := v.compiled[desc.Name]; ok {
		return sch, nil
	}
	sch, err := jsonschema.CompileString(desc.Name+"-output.json", string(desc.OutputSchema))
	if err != nil {
		return nil, err
	}
	v.compiled[desc.Name] = sch
	return sch, nil
}

// flattenCauses walks a validation error tree and returns its leaves.
func flattenCauses(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, flattenCauses(c)...)
	}
	return out
}

// normalize round-trips a value through the generic JSON shapes the
// schema validator expects.
func normalize(output map[string]any) any {
	raw, err := json.Marshal(output)
	if err != nil {
		return output
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return output
	}
	return v
}

// ── semantic checks ──────────────────────────────────────────────────────────

// requiredFieldsCheck verifies the agent's declared required output
// fields are present and non-empty.
type requiredFieldsCheck struct{}

func (requiredFieldsCheck) Name() string { return "required_fields" }

func (requiredFieldsCheck) Run(in CheckInput, v *Verdict) {
	for _, field := range in.Agent.RequiredFields {
		val, ok := in.Output[field]
		if !ok || isEmptyValue(val) {
			v.Issues = append(v.Issues, fmt.Sprintf("missing or empty required field %q", field))
			v.FieldScores[field] = 0
			v.IsValid = false
			continue
		}
		v.FieldScores[field] = 1
	}
}

func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

// confidenceCheck flags self-reported confidence below the configured
// threshold.
type confidenceCheck struct {
	threshold float64
}

func (confidenceCheck) Name() string { return "confidence" }

func (c confidenceCheck) Run(in CheckInput, v *Verdict) {
	raw, ok := in.Output["confidence_score"]
	if !ok {
		return
	}
	score, ok := raw.(float64)
	if !ok {
		v.Issues = append(v.Issues, "confidence_score is not a number")
		return
	}
	v.ConfidenceScore = min(v.ConfidenceScore, score)
	if score < c.threshold {
		v.Issues = append(v.Issues, fmt.Sprintf("confidence %.2f below threshold %.2f", score, c.threshold))
		v.IsValid = false
	}
}

// forbiddenContentCheck flags outputs matching any forbidden pattern.
type forbiddenContentCheck struct {
	patterns []*regexp.Regexp
}

var defaultForbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bas an ai (?:language )?model\b`),
	regexp.MustCompile(`(?i)\bi (?:cannot|can't) verify\b`),
}

func (forbiddenContentCheck) Name() string { return "forbidden_content" }

func (c forbiddenContentCheck) Run(in CheckInput, v *Verdict) {
	for field, val := range in.Output {
		s, ok := val.(string)
		if !ok {
			continue
		}
		for _, re := range c.patterns {
			if re.MatchString(s) {
				v.Issues = append(v.Issues, fmt.Sprintf("field %q matches forbidden pattern %s", field, re.String()))
				v.IsValid = false
			}
		}
	}
}

// anchoringCheck cross-checks numeric and capitalized-name claims in
// generated text against the provided context. Unanchored claims lower
// the confidence score; enough of them flag a hallucination.
type anchoringCheck struct{}

func (anchoringCheck) Name() string { return "anchoring" }

var (
	numberPattern = regexp.MustCompile(`\b\d[\d,]*(?:\.\d+)?\b`)
	namePattern   = regexp.MustCompile(`\b[A-Z][a-z]+(?: [A-Z][a-z]+)*\b`)
)

func (anchoringCheck) Run(in CheckInput, v *Verdict) {
	if len(in.Context) == 0 {
		return
	}
	corpus := strings.ToLower(renderContext(in.Context) + " " + in.Query)

	for field, val := range in.Output {
		text, ok := val.(string)
		if !ok || text == "" {
			continue
		}
		claims := append(numberPattern.FindAllString(text, -1), namePattern.FindAllString(text, -1)...)
		if len(claims) == 0 {
			continue
		}
		unanchored := 0
		for _, claim := range claims {
			if !strings.Contains(corpus, strings.ToLower(claim)) {
				unanchored++
			}
		}
		score := 1 - float64(unanchored)/float64(len(claims))
		v.FieldScores[field] = score
		v.ConfidenceScore = min(v.ConfidenceScore, score)
		if unanchored > 0 {
			v.Issues = append(v.Issues, fmt.Sprintf("field %q has %d of %d claims not anchored in context", field, unanchored, len(claims)))
		}
		if score < 0.5 {
			v.HallucinationDetected = true
		}
	}
}

// renderContext flattens the context map's string and number values into
// one searchable blob.
func renderContext(ctx map[string]any) string {
	var b strings.Builder
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case string:
			b.WriteString(x)
			b.WriteByte(' ')
		case float64:
			b.WriteString(strconv.FormatFloat(x, 'f', -1, 64))
			b.WriteByte(' ')
		case int:
			b.WriteString(strconv.Itoa(x))
			b.WriteByte(' ')
		case []any:
			for _, el := range x {
				walk(el)
			}
		case map[string]any:
			for _, el := range x {
				walk(el)
			}
		}
	}
	walk(ctx)
	return b.String()
}
