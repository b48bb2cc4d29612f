package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/attend/internal/attendance"
	"github.com/roach88/attend/internal/config"
)

// Scenario defines an attendance contract test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Actors are referenced by alias from the steps' "as" field.
	Actors map[string]ActorSpec `yaml:"actors,omitempty"`

	// Permissions configures the gate. Nil allows everything.
	Permissions *config.PermissionsConfig `yaml:"permissions,omitempty"`

	// Setup establishes initial state. Every setup step must succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the behaviour under test.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final state and audit log.
	Assertions []Assertion `yaml:"assertions"`
}

// ActorSpec describes who performs a step.
type ActorSpec struct {
	ID    string   `yaml:"id"`
	Name  string   `yaml:"name"`
	Roles []string `yaml:"roles,omitempty"`
}

// Actor converts the alias entry to an attendance.Actor.
func (a ActorSpec) Actor() attendance.Actor {
	return attendance.Actor{ID: a.ID, Name: a.Name, Roles: a.Roles}
}

// Step is one action. Exactly one of the kind fields (Admit, Transition,
// SaveDraft, LoadDraft, ClearDraft) is set and holds the subject id or
// draft slot the step acts on.
type Step struct {
	Admit      string `yaml:"admit,omitempty"`
	Transition string `yaml:"transition,omitempty"`
	SaveDraft  string `yaml:"save_draft,omitempty"`
	LoadDraft  string `yaml:"load_draft,omitempty"`
	ClearDraft string `yaml:"clear_draft,omitempty"`

	// As names the acting actor. Required for admit and transition.
	As string `yaml:"as,omitempty"`

	// Name is the subject's display name, recorded in the audit entry.
	Name string `yaml:"name,omitempty"`

	// Seed is the initial status for admit. Empty means waiting.
	Seed string `yaml:"seed,omitempty"`

	// To, Reason and Module are the transition request fields.
	To     string `yaml:"to,omitempty"`
	Reason string `yaml:"reason,omitempty"`
	Module string `yaml:"module,omitempty"`

	// Payload is the form data for save_draft.
	Payload map[string]any `yaml:"payload,omitempty"`

	// Expect describes the required outcome. Nil means the step must
	// succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Kind returns which action the step performs, or "" when none or several
// kind fields are set.
func (s Step) Kind() string {
	kind := ""
	for _, c := range []struct {
		name, target string
	}{
		{StepAdmit, s.Admit},
		{StepTransition, s.Transition},
		{StepSaveDraft, s.SaveDraft},
		{StepLoadDraft, s.LoadDraft},
		{StepClearDraft, s.ClearDraft},
	} {
		if c.target == "" {
			continue
		}
		if kind != "" {
			return ""
		}
		kind = c.name
	}
	return kind
}

// Target is the subject id or draft slot the step acts on.
func (s Step) Target() string {
	switch s.Kind() {
	case StepAdmit:
		return s.Admit
	case StepTransition:
		return s.Transition
	case StepSaveDraft:
		return s.SaveDraft
	case StepLoadDraft:
		return s.LoadDraft
	case StepClearDraft:
		return s.ClearDraft
	}
	return ""
}

// Expect is the required outcome of a step.
type Expect struct {
	// Error is the code the step must fail with, e.g. INVALID_TRANSITION
	// or DRAFT_NOT_FOUND. Empty means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Status is the subject's required status after an admit or
	// transition.
	Status string `yaml:"status,omitempty"`

	// Saved is whether a save_draft step must have kept the payload.
	Saved *bool `yaml:"saved,omitempty"`
}

// Assertion validates final state or the audit log.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Subject selects the record for final_status and history_length, and
	// filters audit_contains and audit_count.
	Subject string `yaml:"subject,omitempty"`

	// Status is the expected status (final_status).
	Status string `yaml:"status,omitempty"`

	// Action is the exact audit action text (audit_contains).
	Action string `yaml:"action,omitempty"`

	// Module and Severity filter audit entries.
	Module   string `yaml:"module,omitempty"`
	Severity string `yaml:"severity,omitempty"`

	// Slot is the draft slot (draft_present, draft_absent).
	Slot string `yaml:"slot,omitempty"`

	// Count is the expected number (history_length, audit_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalStatus   = "final_status"
	AssertHistoryLength = "history_length"
	AssertAuditContains = "audit_contains"
	AssertAuditCount    = "audit_count"
	AssertDraftPresent  = "draft_present"
	AssertDraftAbsent   = "draft_absent"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(s.Name, `/\`) {
		return fmt.Errorf("name %q must not contain path separators", s.Name)
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for alias, a := range s.Actors {
		if err := a.Actor().Validate(); err != nil {
			return fmt.Errorf("actors.%s: %w", alias, err)
		}
	}

	for i, step := range s.Setup {
		if err := validateStep(s, step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != nil && step.Expect.Error != "" {
			return fmt.Errorf("setup[%d]: setup steps must succeed", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(s, step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s *Scenario, step Step) error {
	kind := step.Kind()
	if kind == "" {
		return fmt.Errorf("exactly one of admit, transition, save_draft, load_draft or clear_draft is required")
	}

	switch kind {
	case StepAdmit, StepTransition:
		if step.As == "" {
			return fmt.Errorf("%s: as is required", kind)
		}
		if _, ok := s.Actors[step.As]; !ok {
			return fmt.Errorf("%s: unknown actor %q", kind, step.As)
		}
	}
	if kind == StepTransition && step.To == "" {
		return fmt.Errorf("transition: to is required")
	}
	if kind != StepAdmit && step.Seed != "" {
		return fmt.Errorf("%s: seed is only valid for admit", kind)
	}
	if kind != StepSaveDraft && step.Payload != nil {
		return fmt.Errorf("%s: payload is only valid for save_draft", kind)
	}
	if step.Expect != nil && step.Expect.Saved != nil && kind != StepSaveDraft {
		return fmt.Errorf("%s: expect.saved is only valid for save_draft", kind)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalStatus:
		if a.Subject == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: subject and status are required for final_status", index)
		}
	case AssertHistoryLength:
		if a.Subject == "" {
			return fmt.Errorf("assertions[%d]: subject is required for history_length", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for history_length", index)
		}
	case AssertAuditContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for audit_contains", index)
		}
	case AssertAuditCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for audit_count", index)
		}
	case AssertDraftPresent, AssertDraftAbsent:
		if a.Slot == "" {
			return fmt.Errorf("assertions[%d]: slot is required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
