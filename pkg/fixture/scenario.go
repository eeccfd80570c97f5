package fixture

import (
	"fmt"
	"sort"

	"github.com/Pleb5/flotilla-budabit-sub001/pkg/protocol"
)

// baseTimestamp anchors every scenario: 2024-01-01T00:00:00Z. Event
// timestamps are monotonically increasing offsets from it, so ordering
// is deterministic across runs.
const baseTimestamp int64 = 1704067200

// timeStep is the created_at gap between consecutive scenario events.
const timeStep int64 = 10

// Status is the lifecycle state a status event assigns to an issue or
// patch.
type Status string

// The closed status enumeration.
const (
	StatusOpen    Status = "open"
	StatusApplied Status = "applied"
	StatusClosed  Status = "closed"
	StatusDraft   Status = "draft"
)

// Kind returns the event kind carrying this status.
func (s Status) Kind() int {
	switch s {
	case StatusOpen:
		return protocol.KindStatusOpen
	case StatusApplied:
		return protocol.KindStatusApplied
	case StatusClosed:
		return protocol.KindStatusClosed
	case StatusDraft:
		return protocol.KindStatusDraft
	default:
		panic(fmt.Sprintf("fixture: unknown status %q", s))
	}
}

// Repo is a repository produced by a scenario: its announcement event
// and the address other events reference it by.
type Repo struct {
	Address protocol.Address
	Event   *protocol.Event
}

// Scenario accumulates a batch of referentially-consistent events.
// Methods panic on dangling references; this is test fixture code, and
// a bad scenario is a bug in the test, not a runtime condition.
type Scenario struct {
	next   int64
	events []*protocol.Event
	ids    map[string]struct{}
	addrs  map[string]struct{}
}

// NewScenario starts an empty scenario at the fixed base timestamp.
func NewScenario() *Scenario {
	return &Scenario{
		next:  baseTimestamp,
		ids:   make(map[string]struct{}),
		addrs: make(map[string]struct{}),
	}
}

// Events returns the scenario's events in creation order, ready for
// seeding or injection.
func (sc *Scenario) Events() []*protocol.Event {
	out := make([]*protocol.Event, len(sc.events))
	copy(out, sc.events)
	return out
}

// add finalizes an event: assign the next timestamp, derive id and
// signature, record it.
func (sc *Scenario) add(ev *protocol.Event) *protocol.Event {
	ev.CreatedAt = sc.next
	sc.next += timeStep
	ev.ID = ev.ComputeID()
	ev.Sig = fakeSig(ev.ID)
	sc.events = append(sc.events, ev)
	sc.ids[ev.ID] = struct{}{}
	if ev.IsAddressable() {
		sc.addrs[ev.Address().String()] = struct{}{}
	}
	return ev
}

// requireEvent panics unless the target was produced earlier in this
// scenario.
func (sc *Scenario) requireEvent(target *protocol.Event, context string) {
	if target == nil {
		panic("fixture: " + context + " references a nil event")
	}
	if _, ok := sc.ids[target.ID]; !ok {
		panic(fmt.Sprintf("fixture: %s references event %s not produced by this scenario", context, target.ID))
	}
}

// requireRepo panics unless the repository was produced earlier in
// this scenario.
func (sc *Scenario) requireRepo(repo Repo, context string) {
	if _, ok := sc.addrs[repo.Address.String()]; !ok {
		panic(fmt.Sprintf("fixture: %s references repository %s not produced by this scenario", context, repo.Address))
	}
}

// Repo announces a repository owned by the given identity. The
// identifier becomes the d-tag value and, with the owner and kind, the
// repository's address.
func (sc *Scenario) Repo(owner Identity, identifier, name string) Repo {
	ev := sc.add(&protocol.Event{
		PubKey: owner.PubKey,
		Kind:   protocol.KindRepoAnnouncement,
		Tags: []protocol.Tag{
			protocol.MustTag("d", identifier),
			protocol.MustTag("name", name),
		},
	})
	return Repo{Address: ev.Address(), Event: ev}
}

// Issue opens an issue against a previously announced repository.
func (sc *Scenario) Issue(repo Repo, author Identity, subject, content string) *protocol.Event {
	sc.requireRepo(repo, "issue")
	return sc.add(&protocol.Event{
		PubKey:  author.PubKey,
		Kind:    protocol.KindIssue,
		Content: content,
		Tags: []protocol.Tag{
			protocol.MustTag("a", repo.Address.String()),
			protocol.MustTag("subject", subject),
			protocol.MustTag("p", repo.Address.PubKey),
		},
	})
}

// Patch submits a patch against a previously announced repository.
func (sc *Scenario) Patch(repo Repo, author Identity, content string) *protocol.Event {
	sc.requireRepo(repo, "patch")
	return sc.add(&protocol.Event{
		PubKey:  author.PubKey,
		Kind:    protocol.KindPatch,
		Content: content,
		Tags: []protocol.Tag{
			protocol.MustTag("a", repo.Address.String()),
			protocol.MustTag("p", repo.Address.PubKey),
		},
	})
}

// Status moves a previously produced issue or patch to the given
// lifecycle state, referencing it by id and its repository by address.
func (sc *Scenario) Status(target *protocol.Event, repo Repo, author Identity, status Status) *protocol.Event {
	sc.requireEvent(target, "status")
	sc.requireRepo(repo, "status")
	return sc.add(&protocol.Event{
		PubKey: author.PubKey,
		Kind:   status.Kind(),
		Tags: []protocol.Tag{
			protocol.MustTag("e", target.ID),
			protocol.MustTag("a", repo.Address.String()),
			protocol.MustTag("p", target.PubKey),
		},
	})
}

// Label attaches a namespaced annotation to a previously produced
// event: the namespace travels in the "L" tag, the value in the
// paired "l" tag.
func (sc *Scenario) Label(target *protocol.Event, author Identity, namespace, value string) *protocol.Event {
	sc.requireEvent(target, "label")
	return sc.add(&protocol.Event{
		PubKey: author.PubKey,
		Kind:   protocol.KindLabel,
		Tags: []protocol.Tag{
			protocol.MustTag("e", target.ID),
			protocol.MustTag("L", namespace),
			protocol.MustTag("l", value, namespace),
		},
	})
}

// RepoState publishes the current refs of a previously announced
// repository.
func (sc *Scenario) RepoState(repo Repo, refs map[string]string) *protocol.Event {
	sc.requireRepo(repo, "repo state")
	tags := []protocol.Tag{
		protocol.MustTag("d", repo.Address.Identifier),
	}
	// Sorted so the derived id stays deterministic.
	names := make([]string, 0, len(refs))
	for ref := range refs {
		names = append(names, ref)
	}
	sort.Strings(names)
	for _, ref := range names {
		tags = append(tags, protocol.MustTag(ref, refs[ref]))
	}
	return sc.add(&protocol.Event{
		PubKey: repo.Address.PubKey,
		Kind:   protocol.KindRepoState,
		Tags:   tags,
	})
}
