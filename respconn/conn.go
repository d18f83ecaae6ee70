package respconn

import (
	"bufio"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/shinberg/go-rediscluster/resp"
)

// Conn is a synchronous, single-connection resp.Conn over a real TCP
// socket. It is grounded on _examples/kevwan-radix.v2's bufio-wrapped
// net.Conn pattern: one reader, one writer, one mutex-free request/
// response cycle per call (callers serialize their own access, exactly
// as a single DefaultContainer-held connection is used today).
type Conn struct {
	nc net.Conn
	r  *bufio.Reader
	w  *bufio.Writer

	errored    atomic.Bool
	subscribed atomic.Bool
}

// Dial opens a plain TCP connection to host:port with no timeout.
func Dial(host string, port int) (resp.Conn, error) {
	return DialTimeout(host, port, 0)
}

// DialTimeout opens a TCP connection to host:port, bounding the dial
// itself by timeout (0 means no bound). Use this as a resp.ConnectFunc
// via a closure: func(h string, p int) (resp.Conn, error) { return
// respconn.DialTimeout(h, p, 2*time.Second) }.
func DialTimeout(host string, port int, timeout time.Duration) (resp.Conn, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return &Conn{
		nc: nc,
		r:  bufio.NewReader(nc),
		w:  bufio.NewWriter(nc),
	}, nil
}

// Command writes argv as a RESP command and blocks for its reply.
// Callers must not invoke Command concurrently on the same Conn; pair
// one Conn per container.Lease, exactly like the Default container's
// contract (spec §4.3.a).
func (c *Conn) Command(argv ...string) (*resp.Reply, error) {
	if _, err := c.w.Write(formatArgv(argv)); err != nil {
		c.errored.Store(true)
		return nil, err
	}
	if err := c.w.Flush(); err != nil {
		c.errored.Store(true)
		return nil, err
	}
	reply, err := readReply(c.r)
	if err != nil {
		c.errored.Store(true)
		return nil, err
	}
	if isSubscribeCmd(argv) {
		c.subscribed.Store(true)
	}
	return reply, nil
}

func (c *Conn) Errored() bool    { return c.errored.Load() }
func (c *Conn) Subscribed() bool { return c.subscribed.Load() }
func (c *Conn) Close() error     { return c.nc.Close() }
