package respconn

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shinberg/go-rediscluster/resp"
)

var errTooManyInFlight = errors.New("respconn: too many commands in flight")
var errClosed = errors.New("respconn: connection is closed")

// pendingQueueSize bounds how many dispatched-but-unanswered commands an
// AsyncConn tolerates. Redis replies in FIFO order on a single
// connection, so this is a plain channel-backed queue rather than a map.
const pendingQueueSize = 4096

// AsyncConn is a non-blocking resp.AsyncConn over a real TCP socket: one
// writer goroutine (the caller, via Dispatch) and one background reader
// goroutine draining replies in dispatch order. Grounded on the
// threadpool-driven pipelining example in
// original_source/src/examples/threadpool.cpp, re-expressed as Go's
// idiomatic goroutine-plus-channel pipeline rather than a thread pool.
type AsyncConn struct {
	nc net.Conn
	w  *bufio.Writer

	writeMu sync.Mutex
	pending chan resp.ReplyCallback

	errored    atomic.Bool
	subscribed atomic.Bool
	closed     atomic.Bool

	disconnectOnce sync.Once
	disconnectMu   sync.Mutex
	disconnectCb   func()
}

// DialAsync opens a TCP connection to host:port and starts its reader
// loop. Use as a resp.ConnectFunc for the async executor (package
// asyncexec): func(h string, p int) (resp.Conn, error) { return
// respconn.DialAsync(h, p, 0) }.
func DialAsync(host string, port int, timeout time.Duration) (resp.AsyncConn, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	a := &AsyncConn{
		nc:      nc,
		w:       bufio.NewWriter(nc),
		pending: make(chan resp.ReplyCallback, pendingQueueSize),
	}
	go a.readLoop(bufio.NewReader(nc))
	return a, nil
}

// readLoop dequeues the next expected callback, reads the reply that
// must correspond to it (RESP pipelines strictly in order), and
// delivers. A read error is delivered to that callback and every still-
// pending one, then the disconnect hook fires once.
func (a *AsyncConn) readLoop(r *bufio.Reader) {
	for {
		cb, ok := <-a.pending
		if !ok {
			return
		}
		reply, err := readReply(r)
		if err != nil {
			a.errored.Store(true)
			cb(nil, err)
			a.drainPendingWithError(err)
			a.fireDisconnect()
			return
		}
		cb(reply, nil)
	}
}

func (a *AsyncConn) drainPendingWithError(err error) {
	for {
		select {
		case cb, ok := <-a.pending:
			if !ok {
				return
			}
			cb(nil, err)
		default:
			return
		}
	}
}

func (a *AsyncConn) fireDisconnect() {
	a.disconnectOnce.Do(func() {
		a.disconnectMu.Lock()
		cb := a.disconnectCb
		a.disconnectMu.Unlock()
		if cb != nil {
			cb()
		}
	})
}

// Dispatch writes argv and enqueues cb to receive the matching reply.
// It never blocks on the reply itself; cb fires later from the reader
// goroutine (spec §4.6).
func (a *AsyncConn) Dispatch(cb resp.ReplyCallback, argv ...string) error {
	if a.closed.Load() {
		return errClosed
	}

	a.writeMu.Lock()
	_, err := a.w.Write(formatArgv(argv))
	if err == nil {
		err = a.w.Flush()
	}
	a.writeMu.Unlock()
	if err != nil {
		a.errored.Store(true)
		return err
	}

	select {
	case a.pending <- cb:
	default:
		return errTooManyInFlight
	}

	if isSubscribeCmd(argv) {
		a.subscribed.Store(true)
	}
	return nil
}

// Command adapts Dispatch into the blocking resp.Conn shape, for callers
// (such as Cluster.reload's CLUSTER SLOTS exchange) that want to reuse
// one connection type for both sync and async use.
func (a *AsyncConn) Command(argv ...string) (*resp.Reply, error) {
	done := make(chan struct{})
	var reply *resp.Reply
	var err error
	dispatchErr := a.Dispatch(func(r *resp.Reply, e error) {
		reply, err = r, e
		close(done)
	}, argv...)
	if dispatchErr != nil {
		return nil, dispatchErr
	}
	<-done
	return reply, err
}

func (a *AsyncConn) Errored() bool    { return a.errored.Load() }
func (a *AsyncConn) Subscribed() bool { return a.subscribed.Load() }

// OnDisconnect installs fn as the callback fired exactly once, when the
// reader loop first observes an error or when Close is called, whichever
// comes first (spec §4.6 DESIGN NOTES: this is
// the per-connection replacement for the original's global disconnected-
// connections registry).
func (a *AsyncConn) OnDisconnect(fn func()) {
	a.disconnectMu.Lock()
	a.disconnectCb = fn
	a.disconnectMu.Unlock()
}

// Close marks the connection closed, tears down the socket, and fires the
// disconnect hook (at most once overall, shared with the reader loop's
// error path). A command still in flight has its callback invoked with
// the resulting read error by the reader goroutine.
func (a *AsyncConn) Close() error {
	a.closed.Store(true)
	err := a.nc.Close()
	a.fireDisconnect()
	return err
}
