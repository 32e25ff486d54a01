package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// Mask replaces redacted values.
const Mask = "***"

type piiMiddleware struct {
	next     ports.OutcomeStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks the values of names
// matching any pattern, in the outputs and in the history of every outcome.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.OutcomeStore) ports.OutcomeStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Save(ctx context.Context, outcome *domain.Outcome) error {
	// The caller keeps using its outcome; mask a copy.
	cloned := *outcome
	cloned.Outputs = m.mask(outcome.Outputs)
	if outcome.History != nil {
		cloned.History = make([]domain.HistoryEntry, len(outcome.History))
		for i, h := range outcome.History {
			h.Outputs = m.mask(h.Outputs)
			cloned.History[i] = h
		}
	}
	return m.next.Save(ctx, &cloned)
}

func (m *piiMiddleware) Load(ctx context.Context, runID string) (*domain.Outcome, error) {
	return m.next.Load(ctx, runID)
}

func (m *piiMiddleware) Delete(ctx context.Context, runID string) error {
	return m.next.Delete(ctx, runID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *piiMiddleware) mask(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		if m.sensitive(k) {
			out[k] = Mask
			continue
		}
		out[k] = m.maskValue(v)
	}
	return out
}

func (m *piiMiddleware) maskValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return m.mask(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = m.maskValue(item)
		}
		return out
	default:
		return v
	}
}

func (m *piiMiddleware) sensitive(name string) bool {
	for _, p := range m.patterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}
