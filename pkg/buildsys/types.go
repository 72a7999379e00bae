package buildsys

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	starsyntax "go.starlark.net/syntax"
)

// TaskFunc is the body of a task. It returns once the work is done; a non-nil error marks the
// task as failed.
type TaskFunc func(ctx context.Context) error

// Task is a named unit of work. Tasks are immutable once registered.
type Task struct {
	Name   string
	Desc   string
	Hidden bool
	Run    TaskFunc
}

// Implement starlark.Value for *Task

// String returns a string representation of the task
func (t *Task) String() string {
	return fmt.Sprintf("<Task %s: %s>", t.Name, t.Desc)
}

// Type always returns "task" to indicate this type
func (t *Task) Type() string {
	return "task"
}

// Freeze doesn't do anything since tasks are immutable anyway
func (t *Task) Freeze() {}

// Truth always returns true since a task can't be nil or None
func (t *Task) Truth() starlark.Bool {
	return starlark.True
}

// Hash always returns an error since task is not hashable
func (t *Task) Hash() (uint32, error) {
	return 0, eris.New("task is not a hashable type")
}

// Implement starlark.Value for *Stage so that coffee() results can be passed around in scripts.

func (s *Stage) String() string {
	return fmt.Sprintf("<Stage %s -> %s>", s.Pattern, s.Dest)
}

func (s *Stage) Type() string {
	return "stage"
}

func (s *Stage) Freeze() {}

func (s *Stage) Truth() starlark.Bool {
	return starlark.True
}

func (s *Stage) Hash() (uint32, error) {
	return 0, eris.New("stage is not a hashable type")
}

type ScriptOption struct {
	DefaultValue starlark.String
	Help         string
}

func (o ScriptOption) Default() string {
	return o.DefaultValue.GoString()
}

type StarlarkPath string

func (p StarlarkPath) String() string {
	return starlark.String(p).String()
}

func (p StarlarkPath) Type() string {
	return "path"
}

func (p StarlarkPath) Freeze() {}

func (p StarlarkPath) Truth() starlark.Bool {
	return p != ""
}

func (p StarlarkPath) Hash() (uint32, error) {
	return starlark.String(p).Hash()
}

func (p StarlarkPath) CompareSameType(op starsyntax.Token, y_ starlark.Value, depth int) (bool, error) {
	y := y_.(StarlarkPath)

	switch op {
	case starsyntax.EQL:
		return p == y, nil
	case starsyntax.NEQ:
		return p != y, nil
	case starsyntax.LT:
		return p < y, nil
	case starsyntax.LE:
		return p <= y, nil
	case starsyntax.GT:
		return p > y, nil
	case starsyntax.GE:
		return p >= y, nil
	}

	return false, eris.Errorf("unknown operator %v", op)
}
