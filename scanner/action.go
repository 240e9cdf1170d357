package scanner

import (
	"fmt"
	"strings"
)

// Action is the disposition assigned to a file.
type Action int

const (
	ActionNone Action = iota
	ActionKeep
	ActionDelete
	ActionRecycle
	ActionMove
	ActionRename
	ActionReview
	ActionCreateLink
	ActionCompress
	ActionArchive

	actionCount
)

var actionNames = [actionCount]string{
	ActionNone:       "None",
	ActionKeep:       "Keep",
	ActionDelete:     "Delete",
	ActionRecycle:    "Recycle",
	ActionMove:       "Move",
	ActionRename:     "Rename",
	ActionReview:     "Review",
	ActionCreateLink: "CreateLink",
	ActionCompress:   "Compress",
	ActionArchive:    "Archive",
}

// Actions lists every action, ActionNone first.
func Actions() []Action {
	out := make([]Action, 0, actionCount)
	for a := ActionNone; a < actionCount; a++ {
		out = append(out, a)
	}
	return out
}

func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("Action(%d)", int(a))
	}
	return actionNames[a]
}

func (a Action) Valid() bool { return a >= ActionNone && a < actionCount }

// IsDestructive reports whether the action removes the file's content from
// its current location without keeping a copy there.
func (a Action) IsDestructive() bool {
	return a == ActionDelete || a == ActionRecycle
}

// NeedsTarget reports whether the action requires a target path.
func (a Action) NeedsTarget() bool {
	return a == ActionMove || a == ActionRename || a == ActionCreateLink
}

func ParseAction(s string) (Action, error) {
	s = strings.TrimSpace(s)
	for i, name := range actionNames {
		if strings.EqualFold(name, s) {
			return Action(i), nil
		}
	}
	return ActionNone, fmt.Errorf("unknown action: %s", s)
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
