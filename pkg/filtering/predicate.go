package filtering

import (
	"fmt"
	"slices"
	"strings"

	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/selection"

	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
)

// CapabilityKey is the predicate key evaluated against declared capabilities.
// It compares the names a handle declares literally and does not consult the
// matcher's Hierarchy: "capability=Runnable" rejects a handle that declares
// only a subtype of Runnable. Subtype-aware matching belongs in the required
// capability list.
const CapabilityKey = "capability"

// InvalidPredicateError reports a predicate expression that cannot be parsed
type InvalidPredicateError struct {
	Expr string
	Err  error
}

func (e *InvalidPredicateError) Error() string {
	return fmt.Sprintf("invalid predicate %q: %v", e.Expr, e.Err)
}

func (e *InvalidPredicateError) Unwrap() error {
	return e.Err
}

// Is reports whether target is registry.ErrInvalidConfiguration
func (*InvalidPredicateError) Is(target error) bool {
	return target == registry.ErrInvalidConfiguration
}

// Predicate is a parsed filter over capability names and properties.
// A Predicate is immutable and safe for concurrent use.
type Predicate struct {
	expr         string
	capabilities []labels.Requirement
	properties   labels.Selector
}

var _ registry.Filter = (*Predicate)(nil)

// ParsePredicate parses a label-selector style expression.
// The empty expression selects every service.
func ParsePredicate(expr string) (*Predicate, error) {
	expr = strings.TrimSpace(expr)

	reqs, err := labels.ParseToRequirements(expr)
	if err != nil {
		return nil, &InvalidPredicateError{Expr: expr, Err: err}
	}

	p := &Predicate{
		expr:       expr,
		properties: labels.NewSelector(),
	}
	for _, req := range reqs {
		if req.Key() != CapabilityKey {
			p.properties = p.properties.Add(req)
			continue
		}
		switch req.Operator() {
		case selection.GreaterThan, selection.LessThan:
			return nil, &InvalidPredicateError{
				Expr: expr,
				Err:  fmt.Errorf("operator %q is not supported for key %q", req.Operator(), CapabilityKey),
			}
		default:
			p.capabilities = append(p.capabilities, req)
		}
	}
	return p, nil
}

// MustParsePredicate is like ParsePredicate but panics on invalid input.
// Intended for static expressions in tests and bootstrap code.
func MustParsePredicate(expr string) *Predicate {
	p, err := ParsePredicate(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Matches implements registry.Filter
func (p *Predicate) Matches(h *registry.Handle) bool {
	ok, _ := p.MatchWithReason(h)
	return ok
}

// MatchWithReason reports whether h satisfies the predicate and why
func (p *Predicate) MatchWithReason(h *registry.Handle) (bool, string) {
	if p == nil || h == nil {
		return h != nil, "no predicate specified"
	}

	declared := h.Capabilities()
	for i := range p.capabilities {
		req := &p.capabilities[i]
		if !capabilityRequirementMatches(req, declared) {
			return false, fmt.Sprintf("capability requirement %q not satisfied by %v", req.String(), declared)
		}
	}

	if !p.properties.Matches(labels.Set(h.Properties())) {
		return false, fmt.Sprintf("properties do not match %q", p.properties.String())
	}

	if p.expr == "" {
		return true, "empty predicate, default include"
	}
	return true, fmt.Sprintf("matches predicate %q", p.expr)
}

// IsEmpty reports whether the predicate selects every service
func (p *Predicate) IsEmpty() bool {
	return p == nil || (len(p.capabilities) == 0 && p.properties.Empty())
}

// String implements registry.Filter
func (p *Predicate) String() string {
	if p == nil {
		return ""
	}
	return p.expr
}

// capabilityRequirementMatches evaluates a "capability" requirement with set semantics
func capabilityRequirementMatches(req *labels.Requirement, declared []string) bool {
	values := req.ValuesUnsorted()
	declaresAny := func() bool {
		return slices.ContainsFunc(values, func(v string) bool {
			return slices.Contains(declared, v)
		})
	}

	switch req.Operator() {
	case selection.In, selection.Equals, selection.DoubleEquals:
		return declaresAny()
	case selection.NotIn, selection.NotEquals:
		return !declaresAny()
	case selection.Exists:
		return len(declared) > 0
	case selection.DoesNotExist:
		return len(declared) == 0
	default:
		return false
	}
}
