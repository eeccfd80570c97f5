package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrEmptyTag is returned when a tag is constructed or decoded
	// without a name element.
	ErrEmptyTag = errors.New("tag must have a non-empty name")
	// ErrBadAddress is returned when an address string does not have
	// the kind:pubkey:identifier shape.
	ErrBadAddress = errors.New("address must be kind:pubkey:identifier")
)

// Tag is one entry of an event's tag list. On the wire a tag is an
// ordered array of strings whose first element names it; Tag keeps the
// name separate from the remaining values so callers never index into
// raw positions.
type Tag struct {
	Name   string
	Values []string
}

// NewTag builds a validated Tag. The name must be non-empty.
func NewTag(name string, values ...string) (Tag, error) {
	if name == "" {
		return Tag{}, ErrEmptyTag
	}
	vals := make([]string, len(values))
	copy(vals, values)
	return Tag{Name: name, Values: vals}, nil
}

// MustTag is NewTag for fixture code where the name is a literal.
func MustTag(name string, values ...string) Tag {
	t, err := NewTag(name, values...)
	if err != nil {
		panic(err)
	}
	return t
}

// Value returns the tag's first value, the position most protocol
// semantics hang off ("the" id, "the" address, "the" label).
func (t Tag) Value() string {
	if len(t.Values) == 0 {
		return ""
	}
	return t.Values[0]
}

// MarshalJSON encodes the tag in its wire form: ["name", values...].
func (t Tag) MarshalJSON() ([]byte, error) {
	arr := make([]string, 0, len(t.Values)+1)
	arr = append(arr, t.Name)
	arr = append(arr, t.Values...)
	return json.Marshal(arr)
}

// UnmarshalJSON decodes the wire form, rejecting empty arrays and
// empty names.
func (t *Tag) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) == 0 || arr[0] == "" {
		return ErrEmptyTag
	}
	t.Name = arr[0]
	t.Values = arr[1:]
	return nil
}

// Event is a single protocol event. Events are immutable after
// creation; the simulator never mutates one once it enters the store.
// The signature is carried as an opaque blob and never verified.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// ComputeID derives the content-addressed identifier: the sha256 of
// the canonical serialization [0, pubkey, created_at, kind, tags,
// content], as lowercase hex.
func (e *Event) ComputeID() string {
	ser, _ := json.Marshal([]interface{}{
		0,
		e.PubKey,
		e.CreatedAt,
		e.Kind,
		e.Tags,
		e.Content,
	})
	sum := sha256.Sum256(ser)
	return hex.EncodeToString(sum[:])
}

// TagValues returns the first value of every tag with the given name,
// in tag order.
func (e *Event) TagValues(name string) []string {
	var out []string
	for _, t := range e.Tags {
		if t.Name == name {
			out = append(out, t.Value())
		}
	}
	return out
}

// FirstTag returns the first tag with the given name, if any.
func (e *Event) FirstTag(name string) (Tag, bool) {
	for _, t := range e.Tags {
		if t.Name == name {
			return t, true
		}
	}
	return Tag{}, false
}

// IsAddressable reports whether this kind is addressed by
// kind:pubkey:identifier rather than by event id.
func (e *Event) IsAddressable() bool {
	return e.Kind >= 30000 && e.Kind < 40000
}

// Address returns the event's coordinate, derived from its kind,
// author and d-tag value. Only meaningful for addressable kinds; for
// others the identifier is simply empty.
func (e *Event) Address() Address {
	var ident string
	if d, ok := e.FirstTag("d"); ok {
		ident = d.Value()
	}
	return Address{Kind: e.Kind, PubKey: e.PubKey, Identifier: ident}
}

// Address is a kind:pubkey:identifier coordinate referencing the
// current version of an addressable entity. Cross-referencing tags
// ("a") carry addresses in string form.
type Address struct {
	Kind       int
	PubKey     string
	Identifier string
}

// String renders the coordinate in its wire form.
func (a Address) String() string {
	return strconv.Itoa(a.Kind) + ":" + a.PubKey + ":" + a.Identifier
}

// ParseAddress parses a kind:pubkey:identifier string. The identifier
// may itself contain colons, so only the first two separators split.
func ParseAddress(s string) (Address, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Address{}, fmt.Errorf("%w: %q", ErrBadAddress, s)
	}
	kind, err := strconv.Atoi(parts[0])
	if err != nil || kind < 0 {
		return Address{}, fmt.Errorf("%w: bad kind in %q", ErrBadAddress, s)
	}
	return Address{Kind: kind, PubKey: parts[1], Identifier: parts[2]}, nil
}
