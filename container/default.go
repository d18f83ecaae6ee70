package container

import (
	"github.com/shinberg/go-rediscluster/clustererr"
	"github.com/shinberg/go-rediscluster/resp"
)

// Default is the single-connection-per-slot-range, single-connection-
// per-redirection-endpoint container (spec §4.3.a). It is not
// thread-safe, matching original_source/include/container.h's
// DefaultContainer — pair it with a Cluster used from one goroutine, or
// serialize access externally.
type Default struct {
	connect    resp.ConnectFunc
	disconnect resp.DisconnectFunc

	slots   sortedRanges[resp.Conn]
	masters []MasterEntry
	hosts   map[string]resp.Conn
}

// NewDefault builds a Default container using connect/disconnect to
// create and tear down connections.
func NewDefault(connect resp.ConnectFunc, disconnect resp.DisconnectFunc) *Default {
	return &Default{
		connect:    connect,
		disconnect: disconnect,
		hosts:      make(map[string]resp.Conn),
	}
}

func (d *Default) InsertSlotRange(r SlotRange, host string, port int) error {
	conn, err := d.connect(host, port)
	if err != nil || conn == nil || conn.Errored() {
		return clustererr.ConnectionFailed(err)
	}
	d.slots.insert(r, conn)
	d.masters = append(d.masters, MasterEntry{Range: r, Host: host, Port: port})
	return nil
}

// Masters returns a snapshot of every slot-range-to-master binding.
func (d *Default) Masters() []MasterEntry {
	out := make([]MasterEntry, len(d.masters))
	copy(out, d.masters)
	return out
}

func (d *Default) InsertHost(host string, port int) (*Lease, error) {
	key := endpointKey(host, port)
	if conn, ok := d.hosts[key]; ok {
		return &Lease{Conn: conn, Host: host, Port: port}, nil
	}
	conn, err := d.connect(host, port)
	if err != nil || conn == nil || conn.Errored() {
		return nil, clustererr.ConnectionFailed(err)
	}
	d.hosts[key] = conn
	return &Lease{Conn: conn, Host: host, Port: port}, nil
}

func (d *Default) GetConnection(slot int) (*Lease, error) {
	r, conn, ok := d.slots.find(slot)
	if !ok {
		return nil, clustererr.NodeSearch()
	}
	return &Lease{Conn: conn, Range: r}, nil
}

// Release is a dummy for the Default container: there is nothing to hand
// back, the connection is already where the next lookup will find it.
func (d *Default) Release(*Lease) {}

func (d *Default) InvalidateHost(host string, port int) {
	delete(d.hosts, endpointKey(host, port))
}

func (d *Default) DisconnectAll() {
	_, conns := d.slots.all()
	for _, c := range conns {
		d.disconnect(c)
	}
	d.slots = sortedRanges[resp.Conn]{}
	d.masters = nil
	for _, c := range d.hosts {
		d.disconnect(c)
	}
	d.hosts = make(map[string]resp.Conn)
}
