package council

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Evaluator is one independent risk-category judge.
type Evaluator interface {
	Category() Category
	Evaluate(ctx context.Context, content string, evalCtx map[string]any) (Vote, error)
}

type EvaluatorFunc func(ctx context.Context, content string, evalCtx map[string]any) (Vote, error)

type funcEvaluator struct {
	category Category
	fn       EvaluatorFunc
}

func NewFuncEvaluator(category Category, fn EvaluatorFunc) Evaluator {
	return &funcEvaluator{category: category, fn: fn}
}

func (f *funcEvaluator) Category() Category { return f.category }

func (f *funcEvaluator) Evaluate(ctx context.Context, content string, evalCtx map[string]any) (Vote, error) {
	return f.fn(ctx, content, evalCtx)
}

// Registry maps category ids to the evaluator seated for that category.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[string]Evaluator
}

func NewRegistry() *Registry {
	return &Registry{evaluators: make(map[string]Evaluator)}
}

func (r *Registry) Register(e Evaluator) error {
	id := e.Category().ID
	if id == "" {
		return fmt.Errorf("%w: evaluator has no category id", ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.evaluators[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJudge, id)
	}
	r.evaluators[id] = e
	return nil
}

func (r *Registry) MustRegister(evaluators ...Evaluator) {
	for _, e := range evaluators {
		if err := r.Register(e); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Get(id string) (Evaluator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.evaluators[id]
	return e, ok
}

func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.evaluators))
	for id := range r.evaluators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Categories() []Category {
	ids := r.IDs()
	out := make([]Category, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.Get(id); ok {
			out = append(out, e.Category())
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.evaluators)
}
