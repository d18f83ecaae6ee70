package asyncexec

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shinberg/go-rediscluster/cluster"
	"github.com/shinberg/go-rediscluster/clustererr"
	"github.com/shinberg/go-rediscluster/resp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAsyncConn is a deterministic stand-in for a non-blocking Transport:
// Dispatch invokes its callback synchronously instead of from a real
// event loop, which is sufficient to drive the state machine in tests.
type fakeAsyncConn struct {
	mu           sync.Mutex
	addr         string
	script       map[string]*resp.Reply
	netErr       map[string]error
	subscribed   bool
	closed       bool
	disconnectCb func()
}

func (f *fakeAsyncConn) Command(argv ...string) (*resp.Reply, error) { return nil, nil }
func (f *fakeAsyncConn) Errored() bool                                { return false }
func (f *fakeAsyncConn) Subscribed() bool                             { return f.subscribed }
func (f *fakeAsyncConn) Close() error {
	f.closed = true
	if f.disconnectCb != nil {
		f.disconnectCb()
	}
	return nil
}
func (f *fakeAsyncConn) OnDisconnect(fn func()) { f.disconnectCb = fn }

func (f *fakeAsyncConn) Dispatch(cb resp.ReplyCallback, argv ...string) error {
	key := strings.Join(argv, " ")
	f.mu.Lock()
	if err, ok := f.netErr[key]; ok {
		f.mu.Unlock()
		cb(nil, err)
		return nil
	}
	reply, ok := f.script[key]
	f.mu.Unlock()
	if !ok {
		reply = resp.NewStatus("OK")
	}
	cb(reply, nil)
	return nil
}

type fakeCluster struct {
	mu    sync.Mutex
	conns map[string]*fakeAsyncConn
}

func newFakeCluster() *fakeCluster { return &fakeCluster{conns: map[string]*fakeAsyncConn{}} }

func (f *fakeCluster) node(host string, port int) *fakeAsyncConn {
	addr := fmt.Sprintf("%s:%d", host, port)
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conns[addr]
	if !ok {
		c = &fakeAsyncConn{addr: addr, script: map[string]*resp.Reply{}, netErr: map[string]error{}}
		f.conns[addr] = c
	}
	return c
}

func (f *fakeCluster) connect(host string, port int) (resp.Conn, error) { return f.node(host, port), nil }
func (f *fakeCluster) disconnect(c resp.Conn)                           { c.Close() }

func slotsReply(groups ...[4]interface{}) *resp.Reply {
	elems := make([]*resp.Reply, 0, len(groups))
	for _, g := range groups {
		elems = append(elems, resp.NewArray(
			resp.NewInteger(int64(g[0].(int))),
			resp.NewInteger(int64(g[1].(int))),
			resp.NewArray(resp.NewBulkString(g[2].(string)), resp.NewInteger(int64(g[3].(int)))),
		))
	}
	return resp.NewArray(elems...)
}

func newTestCluster(t *testing.T) (*cluster.Cluster, *fakeCluster) {
	t.Helper()
	fc := newFakeCluster()
	seed := fc.node("A", 7000)
	seed.script["CLUSTER SLOTS"] = slotsReply(
		[4]interface{}{0, 5460, "A", 7000},
		[4]interface{}{5461, 10922, "B", 7001},
		[4]interface{}{10923, 16383, "C", 7002},
	)
	c, err := cluster.Dial(fc.connect, fc.disconnect, cluster.Opts{Addr: "A:7000"})
	require.NoError(t, err)
	return c, fc
}

func TestAsyncHappyPath(t *testing.T) {
	c, _ := newTestCluster(t)
	e := New(c)

	var got *resp.Reply
	done := make(chan struct{})
	cmd, err := e.Dispatch("foo", []string{"SET", "foo", "BAR"}, func(r *resp.Reply) {
		got = r
		close(done)
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, cmd)
	<-done
	require.NotNil(t, got)
	assert.Equal(t, "OK", got.Str)
	assert.Equal(t, 0, e.Live())
}

func TestAsyncMoved(t *testing.T) {
	c, fc := newTestCluster(t)
	fc.node("C", 7002).script["SET foo BAR"] = resp.NewError("MOVED 12182 B:7001")
	e := New(c)

	var got *resp.Reply
	done := make(chan struct{})
	_, err := e.Dispatch("foo", []string{"SET", "foo", "BAR"}, func(r *resp.Reply) {
		got = r
		close(done)
	}, nil)
	require.NoError(t, err)
	<-done
	assert.Equal(t, "OK", got.Str)
	assert.True(t, c.IsMoved())
}

func TestAsyncAskTwoStep(t *testing.T) {
	c, fc := newTestCluster(t)
	fc.node("C", 7002).script["SET foo BAR"] = resp.NewError("ASK 12182 B:7001")
	fc.node("B", 7001).script["ASKING"] = resp.NewStatus("OK")
	e := New(c)

	var got *resp.Reply
	done := make(chan struct{})
	_, err := e.Dispatch("foo", []string{"SET", "foo", "BAR"}, func(r *resp.Reply) {
		got = r
		close(done)
	}, nil)
	require.NoError(t, err)
	<-done
	assert.Equal(t, "OK", got.Str)
	assert.False(t, c.IsMoved())
}

func TestAsyncAskFailureDefaultFinish(t *testing.T) {
	c, fc := newTestCluster(t)
	fc.node("C", 7002).script["SET foo BAR"] = resp.NewError("ASK 12182 B:7001")
	fc.node("B", 7001).script["ASKING"] = resp.NewError("ERR not-ok")
	e := New(c)

	var gotErr *clustererr.Error
	var gotState State
	done := make(chan struct{})
	_, err := e.Dispatch("foo", []string{"SET", "foo", "BAR"}, func(r *resp.Reply) {
		close(done)
	}, func(err *clustererr.Error, state State) Action {
		gotErr = err
		gotState = state
		return Finish
	})
	require.NoError(t, err)
	<-done
	require.NotNil(t, gotErr)
	assert.Equal(t, "AskingFailed", gotErr.Name)
	assert.Equal(t, StateAsk, gotState)
	assert.Equal(t, 0, e.Live())
}

func TestAsyncClusterDownRetryThenDisconnected(t *testing.T) {
	c, fc := newTestCluster(t)
	fc.node("C", 7002).script["SET foo BAR"] = resp.NewError("CLUSTERDOWN downsville")
	e := New(c)

	var errs []string
	done := make(chan struct{})
	_, err := e.Dispatch("foo", []string{"SET", "foo", "BAR"}, func(r *resp.Reply) {
		close(done)
	}, func(err *clustererr.Error, state State) Action {
		errs = append(errs, err.Name)
		return Retry
	})
	require.NoError(t, err)
	<-done

	// First CLUSTERDOWN -> Retry (re-sent, fails the same way) -> second
	// failure is reported as Disconnected and the command terminates.
	require.Len(t, errs, 2)
	assert.Equal(t, "ClusterDown", errs[0])
	assert.Equal(t, "Disconnected", errs[1])
	assert.Equal(t, 0, e.Live())
}

// TestAsyncSecondRedirectionIsNotChased mirrors
// cluster_test.go:TestSecondRedirectionIsNotChased for the async path:
// once a command has been redirected once, a further MOVED/ASK on the
// redirected connection is delivered to the caller as-is.
func TestAsyncSecondRedirectionIsNotChased(t *testing.T) {
	c, fc := newTestCluster(t)
	fc.node("C", 7002).script["SET foo BAR"] = resp.NewError("MOVED 12182 B:7001")
	fc.node("B", 7001).script["SET foo BAR"] = resp.NewError("MOVED 12182 C:7002")
	e := New(c)

	var got *resp.Reply
	done := make(chan struct{})
	_, err := e.Dispatch("foo", []string{"SET", "foo", "BAR"}, func(r *resp.Reply) {
		got = r
		close(done)
	}, nil)
	require.NoError(t, err)
	<-done
	require.NotNil(t, got)
	assert.True(t, got.IsError())
	assert.Contains(t, got.Str, "MOVED")
}

// TestAsyncMovedReleasesPooledSlotRangeLease guards against the
// original slot-range lease leaking on redirect: with a pooled
// container, every MOVED must return its borrowed connection to C's
// pool before following the redirect, or a pool of poolSize connections
// deadlocks after poolSize redirected commands (spec §4.5, §7 "leaks no
// connections").
func TestAsyncMovedReleasesPooledSlotRangeLease(t *testing.T) {
	fc := newFakeCluster()
	seed := fc.node("A", 7000)
	seed.script["CLUSTER SLOTS"] = slotsReply(
		[4]interface{}{0, 5460, "A", 7000},
		[4]interface{}{5461, 10922, "B", 7001},
		[4]interface{}{10923, 16383, "C", 7002},
	)
	fc.node("C", 7002).script["SET foo BAR"] = resp.NewError("MOVED 12182 B:7001")

	const poolSize = 2
	c, err := cluster.Dial(fc.connect, fc.disconnect, cluster.Opts{Addr: "A:7000", PoolSize: poolSize})
	require.NoError(t, err)
	e := New(c)

	for i := 0; i < poolSize+3; i++ {
		done := make(chan struct{})
		_, dispatchErr := e.Dispatch("foo", []string{"SET", "foo", "BAR"}, func(r *resp.Reply) {
			close(done)
		}, nil)
		require.NoError(t, dispatchErr)

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("iteration %d did not complete — C's slot-range lease was not released on MOVED", i)
		}
	}
}

func TestAsyncSubscribedConnectionStaysLive(t *testing.T) {
	c, fc := newTestCluster(t)
	fc.node("C", 7002).subscribed = true
	e := New(c)

	done := make(chan struct{})
	_, err := e.Dispatch("foo", []string{"SUBSCRIBE", "foo"}, func(r *resp.Reply) {
		close(done)
	}, nil)
	require.NoError(t, err)
	<-done
	assert.Equal(t, 1, e.Live(), "a subscribed connection's command must stay registered")
}
