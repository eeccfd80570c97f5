package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Filter is one declarative predicate set of a subscription. A field
// that is absent does not constrain; every field that is present must
// pass for an event to match.
type Filter struct {
	// IDs accepts only events whose id is in the set.
	IDs []string
	// Kinds accepts only events of one of these kinds.
	Kinds []int
	// Authors accepts only events from one of these pubkeys.
	Authors []string
	// Since is the inclusive lower created_at bound.
	Since *int64
	// Until is the inclusive upper created_at bound.
	Until *int64
	// Tags maps a single-letter tag name to its accepted first values.
	// Each present letter must be satisfied by at least one of the
	// event's tags; letters combine conjunctively.
	Tags map[string][]string
	// Limit caps the historical backlog for this filter. Nil means
	// unbounded; zero means no backlog at all.
	Limit *int
}

// Matches is the filter-matching interpreter: it reports whether every
// field present in f constrains and passes for ev.
func (f Filter) Matches(ev *Event) bool {
	if f.IDs != nil && !containsString(f.IDs, ev.ID) {
		return false
	}
	if f.Kinds != nil && !containsInt(f.Kinds, ev.Kind) {
		return false
	}
	if f.Authors != nil && !containsString(f.Authors, ev.PubKey) {
		return false
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	for letter, accepted := range f.Tags {
		if !tagMatches(ev, letter, accepted) {
			return false
		}
	}
	return true
}

// tagMatches reports whether the event has at least one tag named
// letter whose first value is in the accepted set.
func tagMatches(ev *Event, letter string, accepted []string) bool {
	for _, t := range ev.Tags {
		if t.Name != letter {
			continue
		}
		if containsString(accepted, t.Value()) {
			return true
		}
	}
	return false
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsInt(set []int, n int) bool {
	for _, v := range set {
		if v == n {
			return true
		}
	}
	return false
}

// Filters is the ordered filter sequence of one subscription. Filters
// within a subscription are OR'd.
type Filters []Filter

// Match reports whether any filter in the set matches the event.
func (fs Filters) Match(ev *Event) bool {
	for i := range fs {
		if fs[i].Matches(ev) {
			return true
		}
	}
	return false
}

// Select computes a subscription's historical backlog: the union of
// events matching any filter, most recent first (ties broken by
// descending id so ordering is deterministic), truncated to the
// minimum limit among filters that set one.
func Select(events []*Event, fs Filters) []*Event {
	seen := make(map[string]struct{})
	var out []*Event
	for _, ev := range events {
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		if fs.Match(ev) {
			seen[ev.ID] = struct{}{}
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	if limit, ok := minLimit(fs); ok && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// minLimit returns the smallest limit declared by any filter, if any
// filter declares one. Clients can send any integer on the wire, so a
// negative limit clamps to zero instead of poisoning the slice bound.
func minLimit(fs Filters) (int, bool) {
	limit, found := 0, false
	for i := range fs {
		if fs[i].Limit == nil {
			continue
		}
		if !found || *fs[i].Limit < limit {
			limit = *fs[i].Limit
			found = true
		}
	}
	if limit < 0 {
		limit = 0
	}
	return limit, found
}

// MarshalJSON renders the filter in its wire form, with tag
// constraints under "#<letter>" keys. Absent fields are omitted.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{})
	if f.IDs != nil {
		m["ids"] = f.IDs
	}
	if f.Kinds != nil {
		m["kinds"] = f.Kinds
	}
	if f.Authors != nil {
		m["authors"] = f.Authors
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if f.Limit != nil {
		m["limit"] = *f.Limit
	}
	for letter, accepted := range f.Tags {
		m["#"+letter] = accepted
	}
	return json.Marshal(m)
}

// UnmarshalJSON parses the wire form. Unknown non-tag keys are
// ignored so the simulator tolerates protocol extensions.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Filter{}
	for key, val := range raw {
		var err error
		switch {
		case key == "ids":
			err = json.Unmarshal(val, &f.IDs)
		case key == "kinds":
			err = json.Unmarshal(val, &f.Kinds)
		case key == "authors":
			err = json.Unmarshal(val, &f.Authors)
		case key == "since":
			f.Since = new(int64)
			err = json.Unmarshal(val, f.Since)
		case key == "until":
			f.Until = new(int64)
			err = json.Unmarshal(val, f.Until)
		case key == "limit":
			f.Limit = new(int)
			err = json.Unmarshal(val, f.Limit)
		case strings.HasPrefix(key, "#") && len(key) > 1:
			var accepted []string
			if err = json.Unmarshal(val, &accepted); err == nil {
				if f.Tags == nil {
					f.Tags = make(map[string][]string)
				}
				f.Tags[key[1:]] = accepted
			}
		}
		if err != nil {
			return fmt.Errorf("filter field %q: %w", key, err)
		}
	}
	return nil
}
