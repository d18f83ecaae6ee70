package container

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shinberg/go-rediscluster/clustererr"
	"github.com/shinberg/go-rediscluster/resp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	addr   string
	closed int32
}

func (f *fakeConn) Command(argv ...string) (*resp.Reply, error) { return resp.NewStatus("OK"), nil }
func (f *fakeConn) Errored() bool                                { return false }
func (f *fakeConn) Subscribed() bool                             { return false }
func (f *fakeConn) Close() error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

func connectCounting(n *int32) resp.ConnectFunc {
	return func(host string, port int) (resp.Conn, error) {
		atomic.AddInt32(n, 1)
		return &fakeConn{addr: fmt.Sprintf("%s:%d", host, port)}, nil
	}
}

func noopDisconnect(resp.Conn) {}

func TestDefaultSlotLookup(t *testing.T) {
	var n int32
	d := NewDefault(connectCounting(&n), noopDisconnect)
	require.NoError(t, d.InsertSlotRange(SlotRange{0, 5460}, "A", 7000))
	require.NoError(t, d.InsertSlotRange(SlotRange{5461, 10922}, "B", 7001))
	require.NoError(t, d.InsertSlotRange(SlotRange{10923, 16383}, "C", 7002))

	l, err := d.GetConnection(12182)
	require.NoError(t, err)
	assert.Equal(t, SlotRange{10923, 16383}, l.Range)

	_, err = d.GetConnection(20000) // out of [0,16383]
	assert.Error(t, err)
}

func TestDefaultRepeatedLookupIsStable(t *testing.T) {
	var n int32
	d := NewDefault(connectCounting(&n), noopDisconnect)
	require.NoError(t, d.InsertSlotRange(SlotRange{0, 16383}, "A", 7000))

	l1, err := d.GetConnection(42)
	require.NoError(t, err)
	l2, err := d.GetConnection(42)
	require.NoError(t, err)
	assert.Same(t, l1.Conn, l2.Conn)
}

func TestDefaultHostInsertIsIdempotent(t *testing.T) {
	var n int32
	d := NewDefault(connectCounting(&n), noopDisconnect)

	l1, err := d.InsertHost("X", 9000)
	require.NoError(t, err)
	l2, err := d.InsertHost("X", 9000)
	require.NoError(t, err)
	assert.Same(t, l1.Conn, l2.Conn)
	assert.Equal(t, int32(1), atomic.LoadInt32(&n))
}

func TestDefaultInvalidateHostForcesReconnect(t *testing.T) {
	var n int32
	d := NewDefault(connectCounting(&n), noopDisconnect)
	l1, _ := d.InsertHost("X", 9000)
	d.InvalidateHost("X", 9000)
	l2, _ := d.InsertHost("X", 9000)
	assert.NotSame(t, l1.Conn, l2.Conn)
	assert.Equal(t, int32(2), atomic.LoadInt32(&n))
}

func TestDefaultConnectFailurePropagates(t *testing.T) {
	bad := func(host string, port int) (resp.Conn, error) { return nil, fmt.Errorf("refused") }
	d := NewDefault(bad, noopDisconnect)
	err := d.InsertSlotRange(SlotRange{0, 100}, "A", 7000)
	require.Error(t, err)
	cerr, ok := err.(*clustererr.Error)
	require.True(t, ok)
	assert.Equal(t, "ConnectionFailed", cerr.Name)
}

func TestDefaultDisconnectAllClosesEverything(t *testing.T) {
	var n int32
	d := NewDefault(connectCounting(&n), func(c resp.Conn) { c.Close() })
	require.NoError(t, d.InsertSlotRange(SlotRange{0, 16383}, "A", 7000))
	_, _ = d.InsertHost("X", 9000)

	d.DisconnectAll()

	_, err := d.GetConnection(1)
	assert.Error(t, err)
}

func TestDefaultMastersSnapshot(t *testing.T) {
	var n int32
	d := NewDefault(connectCounting(&n), noopDisconnect)
	require.NoError(t, d.InsertSlotRange(SlotRange{0, 5460}, "A", 7000))
	require.NoError(t, d.InsertSlotRange(SlotRange{5461, 16383}, "B", 7001))

	masters := d.Masters()
	require.Len(t, masters, 2)
	assert.Equal(t, MasterEntry{Range: SlotRange{0, 5460}, Host: "A", Port: 7000}, masters[0])
}

func TestPooledRespectsPoolSize(t *testing.T) {
	const size = 4
	var n int32
	p := NewPooled(size, connectCounting(&n), noopDisconnect)
	require.NoError(t, p.InsertSlotRange(SlotRange{0, 16383}, "A", 7000))
	assert.Equal(t, int32(size), atomic.LoadInt32(&n))

	leases := make([]*Lease, 0, size)
	for i := 0; i < size; i++ {
		l, err := p.GetConnection(1)
		require.NoError(t, err)
		leases = append(leases, l)
	}

	// the pool is now empty; a further Get must block until Release
	done := make(chan *Lease, 1)
	go func() {
		l, err := p.GetConnection(1)
		require.NoError(t, err)
		done <- l
	}()

	select {
	case <-done:
		t.Fatal("GetConnection returned before any Release, pool size was not enforced")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(leases[0])

	select {
	case l := <-done:
		assert.Same(t, leases[0].Conn, l.Conn)
	case <-time.After(time.Second):
		t.Fatal("a waiting borrower was not unblocked within one release")
	}
}

func TestPooledConcurrencyNeverExceedsSize(t *testing.T) {
	const size = 10
	const callers = 1000
	var n int32
	p := NewPooled(size, connectCounting(&n), func(resp.Conn) {})
	require.NoError(t, p.InsertSlotRange(SlotRange{0, 16383}, "A", 7000))

	var concurrent int32
	var maxConcurrent int32
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			l, err := p.GetConnection(1)
			if err != nil {
				return
			}
			cur := atomic.AddInt32(&concurrent, 1)
			for {
				m := atomic.LoadInt32(&maxConcurrent)
				if cur <= m || atomic.CompareAndSwapInt32(&maxConcurrent, m, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&concurrent, -1)
			p.Release(l)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxConcurrent)), size)

	done := make(chan struct{})
	go func() {
		p.DisconnectAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("DisconnectAll did not return after every connection was released")
	}
}
