package buildsys

import (
	"fmt"
	"strings"
)

// DuplicateTaskError is returned when a task name is registered twice.
type DuplicateTaskError struct {
	Name string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %s is already registered", e.Name)
}

// UnknownTaskError is returned when a task is looked up or composed but was never registered.
type UnknownTaskError struct {
	Name string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("task %s not found", e.Name)
}

// TaskError wraps the failure of a task body and names the task that failed.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// FileSystemError reports an unreadable input or an unwritable destination.
type FileSystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error { return e.Err }

// TranslationError is a compiler diagnostic for malformed source. Line and Column are 1-based;
// they're 0 if the compiler didn't report a location.
type TranslationError struct {
	File   string
	Line   int
	Column int
	Msg    string
	Detail string
}

func (e *TranslationError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.File)
	if e.Line > 0 {
		fmt.Fprintf(&sb, ":%d:%d", e.Line, e.Column)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Msg)
	if e.Detail != "" {
		sb.WriteString("\n")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

// CollisionError is returned when several inputs map to the same output path. Paths are
// compared case-insensitively since the outputs might end up on a case-insensitive filesystem.
type CollisionError struct {
	Dest    string
	Sources []string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("%s would be written by multiple inputs: %s", e.Dest, strings.Join(e.Sources, ", "))
}
