// Package policy holds the checks applied before a chat event reaches the
// session facade.
package policy

// Predicate reports whether an external identity may use the assistant.
type Predicate interface {
	Allowed(externalID int64) bool
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(externalID int64) bool

func (f PredicateFunc) Allowed(externalID int64) bool { return f(externalID) }

// AllowList permits the listed ids. An empty list permits everyone.
type AllowList struct {
	ids map[int64]struct{}
}

func NewAllowList(ids []int64) *AllowList {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return &AllowList{ids: set}
}

func (a *AllowList) Allowed(externalID int64) bool {
	if a == nil || len(a.ids) == 0 {
		return true
	}
	_, ok := a.ids[externalID]
	return ok
}

func (a *AllowList) Open() bool { return a == nil || len(a.ids) == 0 }
