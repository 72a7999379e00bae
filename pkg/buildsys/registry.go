package buildsys

import (
	"context"

	"github.com/rotisserie/eris"
)

// Registry maps task names to tasks. Lookups don't depend on the registration order but
// Tasks() preserves it for listings.
type Registry struct {
	tasks map[string]*Task
	order []string
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
		order: make([]string, 0),
	}
}

// Register stores body under name. It fails with a *DuplicateTaskError if the name is taken.
func (r *Registry) Register(name, desc string, body TaskFunc) (*Task, error) {
	if name == "" {
		return nil, eris.New("task name must not be empty")
	}

	if body == nil {
		return nil, eris.Errorf("task %s has no body", name)
	}

	if _, present := r.tasks[name]; present {
		return nil, &DuplicateTaskError{Name: name}
	}

	task := &Task{
		Name: name,
		Desc: desc,
		Run:  body,
	}
	r.tasks[name] = task
	r.order = append(r.order, name)

	return task, nil
}

// Lookup returns the task registered under name
func (r *Registry) Lookup(name string) (*Task, bool) {
	task, ok := r.tasks[name]
	return task, ok
}

// Tasks returns all registered tasks in registration order
func (r *Registry) Tasks() []*Task {
	result := make([]*Task, len(r.order))
	for idx, name := range r.order {
		result[idx] = r.tasks[name]
	}

	return result
}

// Series composes the named tasks into a body that runs them one after another. All names
// are resolved immediately; an unregistered name results in an *UnknownTaskError.
func (r *Registry) Series(names ...string) (TaskFunc, error) {
	steps := make([]*Task, len(names))
	for idx, name := range names {
		task, ok := r.tasks[name]
		if !ok {
			return nil, &UnknownTaskError{Name: name}
		}
		steps[idx] = task
	}

	return func(ctx context.Context) error {
		for _, task := range steps {
			if err := ctx.Err(); err != nil {
				return err
			}

			err := runTask(ctx, task)
			if err != nil {
				return err
			}
		}

		return nil
	}, nil
}

// Run looks up the named task and executes it. Failures of the task body are returned as
// *TaskError.
func (r *Registry) Run(ctx context.Context, name string) error {
	task, ok := r.tasks[name]
	if !ok {
		return &UnknownTaskError{Name: name}
	}

	return runTask(ctx, task)
}

func runTask(ctx context.Context, task *Task) error {
	logger := log(ctx).With().Str("task", task.Name).Logger()
	ctx = WithLogger(ctx, &logger)

	logger.Debug().Msg("starting")
	err := task.Run(ctx)
	if err != nil {
		return &TaskError{Task: task.Name, Err: err}
	}
	logger.Debug().Msg("done")

	return nil
}
