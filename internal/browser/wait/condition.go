// Package wait implements the condition registry and the polling engine every
// locate and interact operation is built on.
package wait

import (
	"context"
	"errors"
	"strings"

	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
)

// Condition names a state the located elements must reach.
type Condition int

const (
	// Presence is satisfied by at least one matching node.
	Presence Condition = iota
	// Visible is satisfied when the first match is displayed.
	Visible
	// VisibleAny is satisfied by at least one displayed match.
	VisibleAny
	// VisibleAll is satisfied when every match is displayed.
	VisibleAll
	// Clickable is satisfied when the first match is displayed and enabled.
	Clickable
	// Selected is satisfied when the first match is selected.
	Selected
	// AllLocated is satisfied by at least one match and yields all of them.
	AllLocated
)

var conditionNames = [...]string{
	Presence:   "presence",
	Visible:    "visible",
	VisibleAny: "visible-any",
	VisibleAll: "visible-all",
	Clickable:  "clickable",
	Selected:   "selected",
	AllLocated: "all-located",
}

func (c Condition) String() string {
	if c < 0 || int(c) >= len(conditionNames) {
		return "unknown"
	}
	return conditionNames[c]
}

// Many reports whether the condition yields every qualifying element rather than one.
func (c Condition) Many() bool {
	return c == VisibleAny || c == VisibleAll || c == AllLocated
}

// Underscore spellings used by older workflow files.
var conditionAliases = map[string]Condition{
	"visible_any": VisibleAny,
	"visible_all": VisibleAll,
	"all_located": AllLocated,
	"located_all": AllLocated,
}

// ParseCondition maps a name to a Condition. Unknown names fall back to
// Presence and report ok=false so the caller can log the substitution.
func ParseCondition(name string) (c Condition, ok bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	for i, n := range conditionNames {
		if n == key {
			return Condition(i), true
		}
	}
	if c, found := conditionAliases[key]; found {
		return c, true
	}
	return Presence, false
}

// Predicate checks a condition once. It returns the qualifying elements and
// whether the condition holds. A stale element during the check means "not yet"
// and is reported as (nil, false, nil).
type Predicate func(ctx context.Context, f driver.Finder, xpath string) ([]driver.Element, bool, error)

var registry = map[Condition]Predicate{
	Presence:   firstMatching(nil),
	Visible:    firstMatching(displayed),
	Clickable:  firstMatching(clickable),
	Selected:   firstMatching(selected),
	VisibleAny: anyMatching(displayed),
	VisibleAll: allMatching(displayed),
	AllLocated: allMatching(nil),
}

// PredicateFor returns the check registered for c, or the Presence check for
// values outside the closed set.
func PredicateFor(c Condition) Predicate {
	if p, ok := registry[c]; ok {
		return p
	}
	return registry[Presence]
}

type elementCheck func(ctx context.Context, el driver.Element) (bool, error)

func displayed(ctx context.Context, el driver.Element) (bool, error) {
	return el.IsDisplayed(ctx)
}

func clickable(ctx context.Context, el driver.Element) (bool, error) {
	ok, err := el.IsDisplayed(ctx)
	if err != nil || !ok {
		return false, err
	}
	return el.IsEnabled(ctx)
}

func selected(ctx context.Context, el driver.Element) (bool, error) {
	return el.IsSelected(ctx)
}

// settle folds staleness into "not yet".
func settle(els []driver.Element, ok bool, err error) ([]driver.Element, bool, error) {
	if errors.Is(err, driver.ErrStaleElement) {
		return nil, false, nil
	}
	if err != nil || !ok {
		return nil, false, err
	}
	return els, true, nil
}

func firstMatching(check elementCheck) Predicate {
	return func(ctx context.Context, f driver.Finder, xpath string) ([]driver.Element, bool, error) {
		els, err := f.FindElements(ctx, xpath)
		if err != nil || len(els) == 0 {
			return settle(nil, false, err)
		}
		if check == nil {
			return els[:1], true, nil
		}
		ok, err := check(ctx, els[0])
		return settle(els[:1], ok, err)
	}
}

func anyMatching(check elementCheck) Predicate {
	return func(ctx context.Context, f driver.Finder, xpath string) ([]driver.Element, bool, error) {
		els, err := f.FindElements(ctx, xpath)
		if err != nil {
			return settle(nil, false, err)
		}
		var hits []driver.Element
		for _, el := range els {
			ok, err := check(ctx, el)
			if errors.Is(err, driver.ErrStaleElement) {
				continue
			}
			if err != nil {
				return nil, false, err
			}
			if ok {
				hits = append(hits, el)
			}
		}
		return hits, len(hits) > 0, nil
	}
}

func allMatching(check elementCheck) Predicate {
	return func(ctx context.Context, f driver.Finder, xpath string) ([]driver.Element, bool, error) {
		els, err := f.FindElements(ctx, xpath)
		if err != nil || len(els) == 0 {
			return settle(nil, false, err)
		}
		if check == nil {
			return els, true, nil
		}
		for _, el := range els {
			ok, err := check(ctx, el)
			if err != nil || !ok {
				return settle(nil, false, err)
			}
		}
		return els, true, nil
	}
}
