package container

import (
	"sync"

	"github.com/shinberg/go-rediscluster/clustererr"
	"github.com/shinberg/go-rediscluster/resp"
)

// Pooled is the extension-point example from spec §4.3.b: each
// slot-range and each redirection endpoint owns a fixed-size FIFO of N
// connections. A Go buffered channel plays the role the spec's
// "mutex plus condition variable" plays in the C++ original — Get blocks
// on a receive when the channel is empty, Release is a send that wakes
// exactly one waiter, and DisconnectAll drains every channel (waiting for
// every borrowed connection to come back) before closing it. This is the
// same idiom _examples/kevwan-radix.v2/pool/pool.go uses for a single
// pool, generalized here to one pool per slot-range/endpoint.
type Pooled struct {
	poolSize   int
	connect    resp.ConnectFunc
	disconnect resp.DisconnectFunc

	mu      sync.Mutex // guards the structural maps/slices below, not the channels
	slots   sortedRanges[chan resp.Conn]
	masters []MasterEntry
	hosts   map[string]chan resp.Conn
}

// NewPooled builds a Pooled container where each slot-range/endpoint
// keeps poolSize connections in flight.
func NewPooled(poolSize int, connect resp.ConnectFunc, disconnect resp.DisconnectFunc) *Pooled {
	if poolSize < 1 {
		poolSize = 1
	}
	return &Pooled{
		poolSize:   poolSize,
		connect:    connect,
		disconnect: disconnect,
		hosts:      make(map[string]chan resp.Conn),
	}
}

func (p *Pooled) fill(host string, port int) (chan resp.Conn, error) {
	ch := make(chan resp.Conn, p.poolSize)
	for i := 0; i < p.poolSize; i++ {
		conn, err := p.connect(host, port)
		if err != nil || conn == nil || conn.Errored() {
			// Tear down what we already opened for this pool; a partial
			// pool would silently violate the fixed-size contract.
			close(ch)
			for c := range ch {
				p.disconnect(c)
			}
			return nil, clustererr.ConnectionFailed(err)
		}
		ch <- conn
	}
	return ch, nil
}

func (p *Pooled) InsertSlotRange(r SlotRange, host string, port int) error {
	ch, err := p.fill(host, port)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.slots.insert(r, ch)
	p.masters = append(p.masters, MasterEntry{Range: r, Host: host, Port: port})
	p.mu.Unlock()
	return nil
}

// Masters returns a snapshot of every slot-range-to-master binding.
func (p *Pooled) Masters() []MasterEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]MasterEntry, len(p.masters))
	copy(out, p.masters)
	return out
}

func (p *Pooled) InsertHost(host string, port int) (*Lease, error) {
	key := endpointKey(host, port)

	p.mu.Lock()
	ch, ok := p.hosts[key]
	p.mu.Unlock()
	if !ok {
		var err error
		ch, err = p.fill(host, port)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		if existing, raced := p.hosts[key]; raced {
			// Another goroutine won the race to create this endpoint's
			// pool; drop the one we just built and use theirs.
			p.mu.Unlock()
			close(ch)
			for c := range ch {
				p.disconnect(c)
			}
			ch = existing
		} else {
			p.hosts[key] = ch
			p.mu.Unlock()
		}
	}

	conn := <-ch
	return &Lease{Conn: conn, Host: host, Port: port, pool: ch}, nil
}

func (p *Pooled) GetConnection(slot int) (*Lease, error) {
	p.mu.Lock()
	r, ch, ok := p.slots.find(slot)
	p.mu.Unlock()
	if !ok {
		return nil, clustererr.NodeSearch()
	}

	conn := <-ch
	return &Lease{Conn: conn, Range: r, pool: ch}, nil
}

// Release returns the lease's connection to its pool and wakes one
// waiter. It is the essential half of the Default/Pooled split in spec
// §4.3.
func (p *Pooled) Release(l *Lease) {
	if l == nil || l.pool == nil {
		return
	}
	l.pool <- l.Conn
}

func (p *Pooled) InvalidateHost(host string, port int) {
	key := endpointKey(host, port)
	p.mu.Lock()
	ch, ok := p.hosts[key]
	delete(p.hosts, key)
	p.mu.Unlock()
	if !ok {
		return
	}
	go p.drain(ch)
}

func (p *Pooled) drain(ch chan resp.Conn) {
	for i := 0; i < p.poolSize; i++ {
		conn := <-ch
		p.disconnect(conn)
	}
	close(ch)
}

// DisconnectAll drains every pool — blocking until every borrowed
// connection is returned — before destroying it.
func (p *Pooled) DisconnectAll() {
	p.mu.Lock()
	_, slotChans := p.slots.all()
	hostChans := make([]chan resp.Conn, 0, len(p.hosts))
	for _, ch := range p.hosts {
		hostChans = append(hostChans, ch)
	}
	p.slots = sortedRanges[chan resp.Conn]{}
	p.masters = nil
	p.hosts = make(map[string]chan resp.Conn)
	p.mu.Unlock()

	var wg sync.WaitGroup
	drainSync := func(ch chan resp.Conn) {
		defer wg.Done()
		for i := 0; i < p.poolSize; i++ {
			conn := <-ch
			p.disconnect(conn)
		}
		close(ch)
	}
	for _, ch := range slotChans {
		wg.Add(1)
		go drainSync(ch)
	}
	for _, ch := range hostChans {
		wg.Add(1)
		go drainSync(ch)
	}
	wg.Wait()
}
