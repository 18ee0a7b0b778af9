package directory

import (
	"errors"
	"fmt"

	"eventdir/internal/model"
)

// ErrTransition is returned for actions not allowed from the current state.
var ErrTransition = errors.New("directory: transition not allowed")

// Action is a workflow action on an event.
type Action string

const (
	ActionSubmit             Action = "submit"
	ActionDeny               Action = "deny"
	ActionPublish            Action = "publish"
	ActionArchive            Action = "archive"
	ActionArchivePermanently Action = "archive_permanently"
	ActionHide               Action = "hide"
)

type transition struct {
	from         []model.State
	to           model.State
	externalOnly bool
}

var transitions = map[Action]transition{
	ActionSubmit:             {from: []model.State{model.StatePreview}, to: model.StateSubmitted},
	ActionDeny:               {from: []model.State{model.StateSubmitted}, to: model.StateArchived},
	ActionPublish:            {from: []model.State{model.StateSubmitted, model.StateArchived, model.StateArchivedPermanently, model.StateHidden}, to: model.StatePublished},
	ActionArchive:            {from: []model.State{model.StatePublished}, to: model.StateArchived},
	ActionArchivePermanently: {from: []model.State{model.StateArchived}, to: model.StateArchivedPermanently},
	ActionHide:               {from: []model.State{model.StatePublished}, to: model.StateHidden, externalOnly: true},
}

// Target returns the state ev moves to on action, or ErrTransition.
func Target(ev *model.Event, action Action) (model.State, error) {
	tr, ok := transitions[action]
	if !ok {
		return "", fmt.Errorf("%w: unknown action %q", ErrTransition, action)
	}
	if tr.externalOnly && !ev.External {
		return "", fmt.Errorf("%w: %s is only allowed for imported events", ErrTransition, action)
	}
	for _, st := range tr.from {
		if st == ev.State {
			return tr.to, nil
		}
	}
	return "", fmt.Errorf("%w: %s from %s", ErrTransition, action, ev.State)
}

// Actions lists the actions available for ev.
func Actions(ev *model.Event) []Action {
	var out []Action
	for _, a := range []Action{ActionSubmit, ActionDeny, ActionPublish, ActionArchive, ActionArchivePermanently, ActionHide} {
		if _, err := Target(ev, a); err == nil {
			out = append(out, a)
		}
	}
	return out
}
