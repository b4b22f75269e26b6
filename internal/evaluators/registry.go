package evaluators

import (
	"fmt"

	"github.com/council-ai/backend/internal/council"
	"github.com/council-ai/backend/internal/evaluators/heuristic"
	"github.com/council-ai/backend/internal/evaluators/llm"
)

const (
	ModeHeuristic = "heuristic"
	ModeLLM       = "llm"
	ModeHybrid    = "hybrid"
)

// BuildRegistry seats the council for a mode. Hybrid keeps the heuristic
// module where one exists and fills every other catalog category with a
// model judge. A non-empty only list restricts the council to those ids.
func BuildRegistry(mode string, threshold float64, completer llm.Completer, only []string) (*council.Registry, error) {
	var seats []council.Evaluator

	switch mode {
	case ModeHeuristic:
		seats = heuristic.Defaults(threshold)
	case ModeLLM:
		if completer == nil {
			return nil, fmt.Errorf("mode %q requires a model client", mode)
		}
		seats = llm.Judges(council.Catalog, completer)
	case ModeHybrid:
		if completer == nil {
			return nil, fmt.Errorf("mode %q requires a model client", mode)
		}
		seats = heuristic.Defaults(threshold)
		covered := make(map[string]bool, len(seats))
		for _, e := range seats {
			covered[e.Category().ID] = true
		}
		var rest []council.Category
		for _, c := range council.Catalog {
			if !covered[c.ID] {
				rest = append(rest, c)
			}
		}
		seats = append(seats, llm.Judges(rest, completer)...)
	default:
		return nil, fmt.Errorf("unknown council mode %q", mode)
	}

	if len(only) > 0 {
		keep := make(map[string]bool, len(only))
		for _, id := range only {
			keep[id] = true
		}
		filtered := seats[:0]
		for _, e := range seats {
			if keep[e.Category().ID] {
				filtered = append(filtered, e)
				delete(keep, e.Category().ID)
			}
		}
		for id := range keep {
			return nil, fmt.Errorf("%w: %s has no evaluator in mode %q", council.ErrUnknownCategory, id, mode)
		}
		seats = filtered
	}

	reg := council.NewRegistry()
	for _, e := range seats {
		if err := reg.Register(e); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
