// Package idx issues the ULIDs that tag outbound requests, renewal tickets
// and in-flight registry entries.
package idx

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is a ULID in its canonical string form. IDs sort by timestamp, and IDs
// issued within the same millisecond sort in issue order.
type ID string

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New issues an ID stamped with the current time.
func New() ID {
	return NewAt(time.Now())
}

// NewAt issues an ID stamped with t, so components with an injected clock
// produce IDs that agree with it.
func NewAt(t time.Time) ID {
	mu.Lock()
	defer mu.Unlock()

	// The monotonic source only fails when a millisecond overflows
	u, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		u = ulid.Make()
	}
	return ID(u.String())
}

// IsZero reports whether id is empty.
func (id ID) IsZero() bool { return id == "" }

// String returns the canonical string form.
func (id ID) String() string { return string(id) }

// Time returns the timestamp embedded in id, or the zero time when id is not
// a valid ULID.
func (id ID) Time() time.Time {
	u, err := ulid.ParseStrict(string(id))
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time()).UTC()
}

// Compare orders IDs by issue order: -1 if a<b, 0 if equal, +1 if a>b.
func Compare(a, b ID) int {
	return strings.Compare(string(a), string(b))
}
