package permission

import (
	"errors"
	"fmt"
)

// Rule is the compiled access of one subject (a role or a subscription
// tier).
type Rule struct {
	Grants Mask
	// Wildcard grants every resource, known or not, except those in Except.
	Wildcard bool
	Except   Mask
}

// Grant declares one subject's access by resource name. Several grants
// for the same subject are merged.
type Grant struct {
	Subject   string
	Root      bool
	Resources []string
	// AllExcept switches the subject to a wildcard rule minus Resources.
	AllExcept bool
}

// RuleSet is an immutable table of per-subject rules over a ResourceSet.
// It is safe for concurrent use.
type RuleSet struct {
	resources *ResourceSet
	rules     map[string]Rule
}

func NewRuleSet(resources *ResourceSet, grants ...Grant) (*RuleSet, error) {
	if resources == nil {
		return nil, errors.New("permission: nil resource set")
	}
	rs := &RuleSet{resources: resources, rules: make(map[string]Rule, len(grants))}
	for _, g := range grants {
		if g.Subject == "" {
			return nil, errors.New("permission: grant without subject")
		}
		m, err := resources.Mask(g.Resources...)
		if err != nil {
			return nil, fmt.Errorf("grant %s: %w", g.Subject, err)
		}
		r := rs.rules[g.Subject]
		switch {
		case g.Root:
			r.Grants |= RootMask
		case g.AllExcept:
			r.Wildcard = true
			r.Except |= m
		default:
			r.Grants |= m
		}
		rs.rules[g.Subject] = r
	}
	return rs, nil
}

func mustRuleSet(grants ...Grant) *RuleSet {
	rs, err := NewRuleSet(defaultResources, grants...)
	if err != nil {
		panic(err)
	}
	return rs
}

// Allows reports whether subject may access resource.
func (rs *RuleSet) Allows(subject, resource string) bool {
	r, ok := rs.rules[subject]
	if !ok {
		return false
	}
	if r.Grants.Root() {
		return true
	}
	bit, known := rs.resources.Bit(resource)
	if r.Wildcard {
		return !known || !r.Except.Contains(bit)
	}
	return known && r.Grants.Contains(bit)
}

func (rs *RuleSet) Rule(subject string) (Rule, bool) {
	r, ok := rs.rules[subject]
	return r, ok
}

// Granted lists the known resources subject may access.
func (rs *RuleSet) Granted(subject string) []string {
	var out []string
	for bit := 0; bit < rs.resources.Len(); bit++ {
		name, _ := rs.resources.Name(bit)
		if rs.Allows(subject, name) {
			out = append(out, name)
		}
	}
	return out
}

func (rs *RuleSet) Len() int { return len(rs.rules) }
