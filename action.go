package datatable

import (
	"context"

	"github.com/gnemet/datatable/entity"
)

// ActionFunc runs a table-level action.
type ActionFunc func(ctx context.Context, t *Table) error

// RowActionFunc runs an action against one record.
type RowActionFunc func(ctx context.Context, record entity.Record, t *Table) error

// Action is a button bound to a callback. The same type serves table-level
// and row-level actions; which callback is used depends on where it is
// registered.
type Action struct {
	key       string
	label     string
	icon      string
	class     string
	confirm   string
	visible   bool
	visibleFn func(entity.Record) bool
	fn        ActionFunc
	rowFn     RowActionFunc
}

func NewAction(key, label string) *Action {
	return &Action{key: key, label: label, visible: true}
}

func (a *Action) Icon(icon string) *Action {
	a.icon = icon
	return a
}

func (a *Action) Class(class string) *Action {
	a.class = class
	return a
}

// Confirm sets a message the user must accept before the action runs.
func (a *Action) Confirm(message string) *Action {
	a.confirm = message
	return a
}

func (a *Action) Visible(visible bool) *Action {
	a.visible = visible
	return a
}

// VisibleWhen decides visibility per record for row actions.
func (a *Action) VisibleWhen(fn func(entity.Record) bool) *Action {
	a.visibleFn = fn
	return a
}

func (a *Action) Callback(fn ActionFunc) *Action {
	a.fn = fn
	return a
}

func (a *Action) RowCallback(fn RowActionFunc) *Action {
	a.rowFn = fn
	return a
}

func (a *Action) Key() string { return a.key }
func (a *Action) Label() string { return a.label }
func (a *Action) GetIcon() string { return a.icon }
func (a *Action) GetClass() string { return a.class }
func (a *Action) ConfirmMessage() string { return a.confirm }

// IsVisible reports whether the action is shown for r. r may be nil for
// table-level actions.
func (a *Action) IsVisible(r entity.Record) bool {
	if !a.visible {
		return false
	}
	if a.visibleFn != nil && r != nil {
		return a.visibleFn(r)
	}
	return true
}

// ActionView is the rendered form of an action.
type ActionView struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Icon    string `json:"icon,omitempty"`
	Class   string `json:"class,omitempty"`
	Confirm string `json:"confirm,omitempty"`
}

func (a *Action) view() ActionView {
	return ActionView{Key: a.key, Label: a.label, Icon: a.icon, Class: a.class, Confirm: a.confirm}
}

func findAction(actions []*Action, key string) *Action {
	for _, a := range actions {
		if a.key == key {
			return a
		}
	}
	return nil
}
