// Package container implements the Connection Container abstraction (C3):
// a pluggable strategy for how the Cluster stores, looks up, and recycles
// connections. It is grounded on two sources: the slot-range lower_bound
// search in original_source/include/container.h's DefaultContainer, and
// the channel-based pool idiom in
// _examples/kevwan-radix.v2/pool/pool.go — generalized here from "one
// pool per cluster" to "one pool per slot-range/host" per spec §4.3.b.
package container

import (
	"fmt"
	"sort"

	"github.com/shinberg/go-rediscluster/resp"
)

// SlotRange is an inclusive, non-overlapping range of slots (spec §3).
type SlotRange struct {
	Begin, End int
}

func (r SlotRange) contains(slot int) bool { return r.Begin <= slot && slot <= r.End }

// Lease is a borrowed connection returned by GetConnection/InsertHost. It
// must be handed back via Release once the caller is done with it. For
// the Default container Release is a no-op; for Pooled it returns the
// connection to its pool and wakes one waiter — exactly the distinction
// spec §4.3 draws.
type Lease struct {
	Conn  resp.Conn
	Range SlotRange // zero value for host-keyed leases
	Host  string
	Port  int

	pool chan resp.Conn // nil unless this lease came from a Pooled container
}

// Key is the canonical "host:port" endpoint key (spec §3 HostEndpoint).
func (l *Lease) Key() string { return endpointKey(l.Host, l.Port) }

func endpointKey(host string, port int) string { return fmt.Sprintf("%s:%d", host, port) }

// Container is the interface Cluster depends on (spec §4.3, and the
// DESIGN NOTES replacing the C++ original's compile-time template
// parameter with a runtime strategy interface).
type Container interface {
	// InsertSlotRange is called during topology initialization. It
	// connects to host:port and binds the connection(s) to r.
	InsertSlotRange(r SlotRange, host string, port int) error

	// InsertHost is called for redirection-born connections. It returns
	// the existing connection for that endpoint if one exists, else
	// creates one. Idempotent by endpoint (spec §3 invariant).
	InsertHost(host string, port int) (*Lease, error)

	// GetConnection returns the slot-range entry covering slot, or a
	// NodeSearch failure.
	GetConnection(slot int) (*Lease, error)

	// Release returns a borrowed lease to the store. Dummy for
	// single-threaded containers; essential for pooled ones.
	Release(l *Lease)

	// InvalidateHost drops a cached redirection connection for an
	// endpoint, so a future InsertHost for it creates a fresh one. Used
	// when the transport reports a disconnect (spec §4.6 DESIGN NOTES).
	InvalidateHost(host string, port int)

	// DisconnectAll drains and destroys every connection the container
	// holds.
	DisconnectAll()

	// Masters lists every slot-range-to-master binding currently held,
	// in no particular order. Used by cluster.Cluster.GetEvery to
	// broadcast a command across one connection per master (SPEC_FULL §5,
	// supplemented from the teacher's GetEvery()).
	Masters() []MasterEntry
}

// MasterEntry names one slot-range's master endpoint, without its
// connection — Masters() is a topology snapshot, not a lease grant.
type MasterEntry struct {
	Range SlotRange
	Host  string
	Port  int
}

// sortedRanges is the shared slot-range-lookup helper both variants use:
// ranges kept ordered by Begin; a lookup for slot s finds the greatest
// range whose Begin <= s, then verifies s <= End (spec §4.3 "Lookup
// algorithm").
type sortedRanges[T any] struct {
	ranges []SlotRange
	values []T
}

func (s *sortedRanges[T]) insert(r SlotRange, v T) {
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].Begin > r.Begin })
	s.ranges = append(s.ranges, SlotRange{})
	copy(s.ranges[i+1:], s.ranges[i:])
	s.ranges[i] = r

	var zero T
	s.values = append(s.values, zero)
	copy(s.values[i+1:], s.values[i:])
	s.values[i] = v
}

func (s *sortedRanges[T]) find(slot int) (SlotRange, T, bool) {
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].Begin > slot }) - 1
	var zero T
	if i < 0 || i >= len(s.ranges) {
		return SlotRange{}, zero, false
	}
	r := s.ranges[i]
	if !r.contains(slot) {
		return SlotRange{}, zero, false
	}
	return r, s.values[i], true
}

func (s *sortedRanges[T]) all() ([]SlotRange, []T) { return s.ranges, s.values }
