package adminhttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinberg/go-rediscluster/cluster"
	"github.com/shinberg/go-rediscluster/resp"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeConn struct {
	mu     sync.Mutex
	script map[string]*resp.Reply
}

func (f *fakeConn) Command(argv ...string) (*resp.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.script[strings.Join(argv, " ")]; ok {
		return r, nil
	}
	return resp.NewStatus("OK"), nil
}
func (f *fakeConn) Errored() bool    { return false }
func (f *fakeConn) Subscribed() bool { return false }
func (f *fakeConn) Close() error     { return nil }

type fakeCluster struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
}

func (f *fakeCluster) node(host string, port int) *fakeConn {
	addr := fmt.Sprintf("%s:%d", host, port)
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conns[addr]
	if !ok {
		c = &fakeConn{script: map[string]*resp.Reply{}}
		f.conns[addr] = c
	}
	return c
}

func (f *fakeCluster) connect(host string, port int) (resp.Conn, error) { return f.node(host, port), nil }
func (f *fakeCluster) disconnect(c resp.Conn)                           { c.Close() }

func newTestCluster(t *testing.T) *cluster.Cluster {
	t.Helper()
	fc := &fakeCluster{conns: map[string]*fakeConn{}}
	seed := fc.node("A", 7000)
	seed.script["CLUSTER SLOTS"] = resp.NewArray(
		resp.NewArray(
			resp.NewInteger(0), resp.NewInteger(16383),
			resp.NewArray(resp.NewBulkString("A"), resp.NewInteger(7000)),
		),
	)
	c, err := cluster.Dial(fc.connect, fc.disconnect, cluster.Opts{Addr: "A:7000"})
	require.NoError(t, err)
	return c
}

func TestHealthzReportsReady(t *testing.T) {
	c := newTestCluster(t)
	s := New(c)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["ready"])
}

func TestHealthzReportsNotReadyAfterStop(t *testing.T) {
	c := newTestCluster(t)
	c.Stop()
	s := New(c)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMovedReflectsFlag(t *testing.T) {
	c := newTestCluster(t)
	s := New(c)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/moved", nil)
	s.Handler().ServeHTTP(rec, req)

	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body["moved"])
}

func TestTopologyListsMasters(t *testing.T) {
	c := newTestCluster(t)
	s := New(c)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/topology", nil)
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Slots []struct {
			Begin int    `json:"begin"`
			End   int    `json:"end"`
			Host  string `json:"host"`
			Port  int    `json:"port"`
		} `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Slots, 1)
	assert.Equal(t, "A", body.Slots[0].Host)
	assert.Equal(t, 7000, body.Slots[0].Port)
}
