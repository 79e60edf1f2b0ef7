package api

import (
	"context"
	"sort"
	"strings"
)

// CorrelationPart is one key/value of a correlation.
type CorrelationPart struct {
	Key   string
	Value string
}

// Correlation is an application-supplied key (single part) or composite
// (several parts) used to look up an instance.
type Correlation struct {
	Parts []CorrelationPart
}

// SimpleCorrelation builds a single-part correlation.
func SimpleCorrelation(key, value string) Correlation {
	return Correlation{Parts: []CorrelationPart{{Key: key, Value: value}}}
}

// CompositeCorrelation builds a correlation from key/value pairs.
func CompositeCorrelation(kv map[string]string) Correlation {
	c := Correlation{}
	for k, v := range kv {
		c.Parts = append(c.Parts, CorrelationPart{Key: k, Value: v})
	}
	return c
}

// IsZero reports whether the correlation has no parts.
func (c Correlation) IsZero() bool { return len(c.Parts) == 0 }

// Composite reports whether the correlation has more than one part.
func (c Correlation) Composite() bool { return len(c.Parts) > 1 }

// Encoded returns a stable string form independent of part order.
func (c Correlation) Encoded() string {
	parts := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		parts = append(parts, p.Key+"="+p.Value)
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// CorrelationInstance associates a correlation with an instance id.
type CorrelationInstance struct {
	Correlation  Correlation
	CorrelatedID string
	EncodedKey   string
}

// CorrelationService maps correlations to instance ids.
type CorrelationService interface {
	Create(ctx context.Context, c Correlation, correlatedID string) (CorrelationInstance, error)
	Find(ctx context.Context, c Correlation) (CorrelationInstance, bool, error)
	FindByCorrelatedID(ctx context.Context, correlatedID string) (CorrelationInstance, bool, error)
	Delete(ctx context.Context, c Correlation) error
}
