// Package fixture builds referentially-consistent graphs of
// git-collaboration events for seeding the relay simulator. The
// builder enforces what the store deliberately does not: every
// cross-reference it emits points at an id or address produced earlier
// in the same scenario.
package fixture

import (
	"crypto/sha256"
	"encoding/hex"
)

// Identity is one test author from the fixed roster. Pubkeys are
// deterministic 64-hex strings derived from the name, so scenarios are
// byte-identical across runs. None of them correspond to real keys;
// signatures are opaque in this harness anyway.
type Identity struct {
	Name   string
	PubKey string
}

// The roster. Tests that need "someone else" beyond four authors are
// testing the wrong layer.
var (
	Alice = newIdentity("alice")
	Bob   = newIdentity("bob")
	Carol = newIdentity("carol")
	Dave  = newIdentity("dave")
)

// Roster lists the fixed test identities.
var Roster = []Identity{Alice, Bob, Carol, Dave}

func newIdentity(name string) Identity {
	sum := sha256.Sum256([]byte("fixture-identity:" + name))
	return Identity{Name: name, PubKey: hex.EncodeToString(sum[:])}
}

// fakeSig produces the opaque 128-hex signature blob for an event id.
// Deterministic, never validated.
func fakeSig(id string) string {
	a := sha256.Sum256([]byte(id + ":sig:a"))
	b := sha256.Sum256([]byte(id + ":sig:b"))
	return hex.EncodeToString(a[:]) + hex.EncodeToString(b[:])
}
