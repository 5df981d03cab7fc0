// Package extract turns raw listing markup into a ListingRecord by running,
// per field, an ordered list of rules from most structural to most generic.
package extract

// Rule is one named extraction strategy for a field. Apply returns false
// when the rule does not match.
type Rule[T any] struct {
	Name  string
	Apply func(p *Page) (T, bool)
}

// RuleList is an ordered set of rules for one field. Valid, when set,
// rejects results (e.g. titles under the length floor) so the next rule runs.
type RuleList[T any] struct {
	Field string
	Rules []Rule[T]
	Valid func(T) bool
}

// First returns the result of the first rule that matches and passes Valid,
// together with that rule's name.
func (l RuleList[T]) First(p *Page) (T, string, bool) {
	for _, r := range l.Rules {
		v, ok := r.Apply(p)
		if !ok {
			continue
		}
		if l.Valid != nil && !l.Valid(v) {
			continue
		}
		return v, r.Name, true
	}
	var zero T
	return zero, "", false
}

// All runs every rule and returns each valid result in rule order, with the
// names of the rules that contributed.
func (l RuleList[T]) All(p *Page) ([]T, []string) {
	var (
		out   []T
		names []string
	)
	for _, r := range l.Rules {
		v, ok := r.Apply(p)
		if !ok {
			continue
		}
		if l.Valid != nil && !l.Valid(v) {
			continue
		}
		out = append(out, v)
		names = append(names, r.Name)
	}
	return out, names
}
