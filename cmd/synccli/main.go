// Command synccli drives the blocking command path end to end, the Go
// equivalent of original_source/src/examples/example.cpp: dial a
// cluster from a seed node, issue one command, print the reply.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shinberg/go-rediscluster/cluster"
	"github.com/shinberg/go-rediscluster/resp"
	"github.com/shinberg/go-rediscluster/respconn"
)

func main() {
	seed := flag.String("seed", "127.0.0.1:7000", "seed node host:port")
	poolSize := flag.Int("pool-size", 0, "connections per slot-range/endpoint (0 = Default container)")
	timeout := flag.Duration("timeout", 2*time.Second, "dial timeout")
	flag.Parse()
	argv := flag.Args()
	if len(argv) < 2 {
		fmt.Fprintln(os.Stderr, "usage: synccli [-seed host:port] [-pool-size n] KEY CMD [ARGS...]")
		os.Exit(2)
	}
	key, cmdArgv := argv[0], argv[1:]

	connect := func(host string, port int) (resp.Conn, error) {
		return respconn.DialTimeout(host, port, *timeout)
	}
	disconnect := func(c resp.Conn) { c.Close() }

	c, err := cluster.Dial(connect, disconnect, cluster.Opts{Addr: *seed, PoolSize: *poolSize})
	if err != nil {
		slog.Error("dial failed", "err", err)
		os.Exit(1)
	}
	defer c.Disconnect()

	reply, err := c.Cmd(key, cmdArgv...)
	if err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}

	if reply.IsError() {
		fmt.Fprintln(os.Stderr, reply.Str)
		os.Exit(1)
	}
	printReply(reply, 0)
}

func printReply(r *resp.Reply, depth int) {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	switch r.Type {
	case resp.Array:
		for _, e := range r.Elements {
			printReply(e, depth+1)
		}
	case resp.Integer:
		fmt.Printf("%s(integer) %d\n", indent, r.Integer)
	case resp.Nil:
		fmt.Printf("%s(nil)\n", indent)
	default:
		fmt.Printf("%s%s\n", indent, r.Str)
	}
}
