// Command asynccli drives the non-blocking command path, the Go
// equivalent of original_source/src/examples/asyncexample.cpp and
// asyncexample_disconnect.cpp: dispatch a command on a timer, print
// whatever reply (or disconnect) arrives, retry once on failure.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shinberg/go-rediscluster/asyncexec"
	"github.com/shinberg/go-rediscluster/cluster"
	"github.com/shinberg/go-rediscluster/clustererr"
	"github.com/shinberg/go-rediscluster/resp"
	"github.com/shinberg/go-rediscluster/respconn"
)

func main() {
	seed := flag.String("seed", "127.0.0.1:7000", "seed node host:port")
	timeout := flag.Duration("timeout", 2*time.Second, "dial timeout")
	iterations := flag.Int("iterations", 10, "number of SET FOO BARx commands to issue, one per second")
	flag.Parse()

	connect := func(host string, port int) (resp.Conn, error) {
		return respconn.DialAsync(host, port, *timeout)
	}
	disconnect := func(c resp.Conn) { c.Close() }

	c, err := cluster.Dial(connect, disconnect, cluster.Opts{Addr: *seed})
	if err != nil {
		slog.Error("dial failed", "err", err)
		os.Exit(1)
	}
	defer c.Disconnect()

	e := asyncexec.New(c)

	for i := 0; i < *iterations; i++ {
		fmt.Printf(">>> iteration %d\n", i)
		value := fmt.Sprintf("BAR%d", i)
		_, err := e.Dispatch("FOO", []string{"SET", "FOO", value},
			func(r *resp.Reply) {
				if r == nil {
					fmt.Println("empty reply (connection likely dropped)")
					return
				}
				fmt.Printf("reply: %s\n", r.Str)
			},
			func(err *clustererr.Error, state asyncexec.State) asyncexec.Action {
				slog.Warn("command error", "state", state.String(), "err", err)
				if state == asyncexec.StateSend {
					return asyncexec.Retry
				}
				return asyncexec.Finish
			},
		)
		if err != nil {
			slog.Error("dispatch failed", "err", err)
		}
		time.Sleep(time.Second)
	}
}
