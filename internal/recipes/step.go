package recipes

import (
	"fmt"
	"strings"
	"time"

	"munireports/internal/browser"
	"munireports/internal/config"
)

// Action is the kind of form interaction a Step performs
type Action string

const (
	ActionClick        Action = "click"
	ActionSetText      Action = "set_text"
	ActionPickDropdown Action = "pick_dropdown"
	ActionToggleRadio  Action = "toggle_radio"
	ActionWait         Action = "wait"
	ActionSubmit       Action = "submit"
)

// Radio strategies
const (
	StrategyDirect   = "direct"
	StrategyViaLabel = "via_label"
)

// Wait conditions
const (
	ConditionVisible = "visible"
	ConditionPresent = "present"
	ConditionGone    = "gone"
)

// DefaultResults is the Select2 results list used when a dropdown step
// does not name one.
var DefaultResults = browser.CSS(".select2-drop-active .select2-results li")

// Step is one typed form interaction. Which fields are read depends on
// Action:
//
//	click          Target
//	set_text       Target, Value
//	pick_dropdown  Target (widget), Option (text predicate), Results
//	toggle_radio   Target (input), Label, Strategy
//	wait           Target, Condition
//	submit         Target
type Step struct {
	Action    Action          `json:"action"`
	Target    browser.Locator `json:"target"`
	Value     string          `json:"value,omitempty"`
	Option    string          `json:"option,omitempty"`
	Results   browser.Locator `json:"results,omitempty"`
	Label     browser.Locator `json:"label,omitempty"`
	Strategy  string          `json:"strategy,omitempty"`
	Condition string          `json:"condition,omitempty"`
	Timeout   time.Duration   `json:"timeout,omitempty"`
}

// String renders the step for logs and reports
func (s Step) String() string {
	switch s.Action {
	case ActionSetText:
		return fmt.Sprintf("%s %s=%q", s.Action, s.Target, s.Value)
	case ActionPickDropdown:
		return fmt.Sprintf("%s %s option=%q", s.Action, s.Target, s.Option)
	case ActionWait:
		return fmt.Sprintf("%s %s %s", s.Action, s.Target, s.Condition)
	}
	return fmt.Sprintf("%s %s", s.Action, s.Target)
}

// stepFromDefinition parses and checks one on-disk step
func stepFromDefinition(def config.StepDefinition) (Step, error) {
	target, err := browser.ParseLocator(def.Target)
	if err != nil {
		return Step{}, fmt.Errorf("target: %w", err)
	}
	s := Step{
		Action:    Action(strings.ToLower(def.Action)),
		Target:    target,
		Value:     def.Value,
		Option:    def.Option,
		Strategy:  def.Strategy,
		Condition: def.Condition,
		Timeout:   def.Timeout,
	}
	if def.Results != "" {
		if s.Results, err = browser.ParseLocator(def.Results); err != nil {
			return Step{}, fmt.Errorf("results: %w", err)
		}
	}
	if def.Label != "" {
		if s.Label, err = browser.ParseLocator(def.Label); err != nil {
			return Step{}, fmt.Errorf("label: %w", err)
		}
	}

	switch s.Action {
	case ActionClick, ActionSubmit:
	case ActionSetText:
		if s.Value == "" {
			return Step{}, fmt.Errorf("set_text requires a value")
		}
	case ActionPickDropdown:
		if s.Option == "" {
			return Step{}, fmt.Errorf("pick_dropdown requires an option")
		}
		if s.Results.IsZero() {
			s.Results = DefaultResults
		}
	case ActionToggleRadio:
		if s.Strategy == "" {
			s.Strategy = StrategyDirect
		}
		if s.Strategy == StrategyViaLabel && s.Label.IsZero() {
			return Step{}, fmt.Errorf("toggle_radio via_label requires a label")
		}
	case ActionWait:
		if s.Condition == "" {
			s.Condition = ConditionVisible
		}
		switch s.Condition {
		case ConditionVisible, ConditionPresent, ConditionGone:
		default:
			return Step{}, fmt.Errorf("unknown wait condition %q", s.Condition)
		}
	default:
		return Step{}, fmt.Errorf("unknown action %q", def.Action)
	}
	if s.Timeout < 0 || s.Timeout > config.DefaultStepTimeout {
		return Step{}, fmt.Errorf("timeout %s outside (0, %s]", s.Timeout, config.DefaultStepTimeout)
	}
	return s, nil
}

// bind substitutes parameters and city locators into a copy of s
func (s Step) bind(r *strings.Replacer, locators map[browser.Locator]browser.Locator) Step {
	out := s
	out.Target = swap(s.Target, locators).Expand(r)
	out.Results = swap(s.Results, locators).Expand(r)
	out.Label = swap(s.Label, locators).Expand(r)
	if r != nil {
		out.Value = r.Replace(s.Value)
		out.Option = r.Replace(s.Option)
	}
	return out
}

func swap(loc browser.Locator, locators map[browser.Locator]browser.Locator) browser.Locator {
	if repl, ok := locators[loc]; ok {
		return repl
	}
	return loc
}
