// Package scenario imports batches of offline events from YAML.
//
// A scenario file is a list of events collected away from the device (on
// another handset or on paper slips) plus optional expected balances. Apply
// commits the events in file order through the transaction writer and checks
// the expectations against the ledger.
package scenario

import (
	"bytes"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/dairyledger/internal/model"
	"github.com/roach88/dairyledger/internal/writer"
)

// Scenario is one import file.
type Scenario struct {
	// Name identifies the batch in logs and golden files.
	Name string `yaml:"name"`

	Description string `yaml:"description,omitempty"`

	// Events are committed in order.
	Events []Step `yaml:"events"`

	// Expect is checked after every event has been committed.
	Expect *Expectations `yaml:"expect,omitempty"`
}

// Step is one event. Amounts are decimal strings so YAML never turns them
// into floats.
type Step struct {
	Type        string `yaml:"type"`
	Account     string `yaml:"account"`
	Kind        string `yaml:"kind,omitempty"`
	Amount      string `yaml:"amount"`
	Quantity    string `yaml:"quantity,omitempty"`
	Fat         string `yaml:"fat,omitempty"`
	SNF         string `yaml:"snf,omitempty"`
	Shift       string `yaml:"shift,omitempty"`
	Product     string `yaml:"product,omitempty"`
	PaymentMode string `yaml:"payment_mode,omitempty"`
	Reference   string `yaml:"reference,omitempty"`
	Notes       string `yaml:"notes,omitempty"`
	Operator    string `yaml:"operator,omitempty"`
	Priority    string `yaml:"priority,omitempty"`

	// ExpectError is the error code the commit must fail with, e.g.
	// VALIDATION. Empty means the commit must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Expectations are checked against the ledger after the import.
type Expectations struct {
	// Balances maps account id to the expected balance.
	Balances map[string]string `yaml:"balances,omitempty"`
}

// Load reads and validates a scenario file. Unknown fields are rejected so a
// typo never silently drops data.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates scenario YAML.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("events list is required and must be non-empty")
	}
	for i, step := range s.Events {
		if step.Type == "" {
			return fmt.Errorf("events[%d]: type is required", i)
		}
		if _, err := step.Event(); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
	}
	if s.Expect != nil {
		for account, bal := range s.Expect.Balances {
			if _, err := decimal.NewFromString(bal); err != nil {
				return fmt.Errorf("expect.balances[%s]: %q is not a decimal", account, bal)
			}
		}
	}
	return nil
}

// Event converts the step into a writer event. Only syntax is checked here;
// business validation is the writer's.
func (s Step) Event() (writer.Event, error) {
	ev := writer.Event{
		Type:        model.EntityType(s.Type),
		AccountID:   s.Account,
		Kind:        model.Kind(s.Kind),
		Shift:       s.Shift,
		Product:     s.Product,
		PaymentMode: s.PaymentMode,
		Reference:   s.Reference,
		Notes:       s.Notes,
		OperatorID:  s.Operator,
		Priority:    model.Priority(s.Priority),
	}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"amount", s.Amount, &ev.Amount},
		{"quantity", s.Quantity, &ev.Quantity},
		{"fat", s.Fat, &ev.Fat},
		{"snf", s.SNF, &ev.SNF},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return writer.Event{}, fmt.Errorf("%s: %q is not a decimal", f.name, f.raw)
		}
		*f.dst = d
	}
	return ev, nil
}
