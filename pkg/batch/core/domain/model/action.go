package model

import (
	"fmt"
	"strings"
)

// Action is the operation the batch performs on a work item.
type Action string

const (
	ActionDelete Action = "DELETE"
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionRun    Action = "RUN"
	ActionSkip   Action = "SKIP"
	// ActionSleep blocks the item until it is canceled. Used to exercise cancellation.
	ActionSleep Action = "SLEEP"
)

var allActions = []Action{ActionDelete, ActionCreate, ActionUpdate, ActionRun, ActionSkip, ActionSleep}

// String returns the string representation of the Action.
func (a Action) String() string {
	return string(a)
}

// IsValid reports whether a is one of the known actions.
func (a Action) IsValid() bool {
	for _, known := range allActions {
		if a == known {
			return true
		}
	}
	return false
}

// ParseAction parses s case-insensitively. An empty value means SKIP.
func ParseAction(s string) (Action, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ActionSkip, nil
	}
	a := Action(strings.ToUpper(s))
	if !a.IsValid() {
		names := make([]string, len(allActions))
		for i, known := range allActions {
			names[i] = string(known)
		}
		return "", fmt.Errorf("action '%s' is invalid: value must be empty or one of %s", s, strings.Join(names, ","))
	}
	return a, nil
}
