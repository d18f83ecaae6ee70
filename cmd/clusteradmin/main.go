// Command clusteradmin loads a YAML config, dials a cluster from it,
// and serves the read-only adminhttp introspection endpoints.
package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/shinberg/go-rediscluster/adminhttp"
	"github.com/shinberg/go-rediscluster/cluster"
	"github.com/shinberg/go-rediscluster/config"
	"github.com/shinberg/go-rediscluster/resp"
	"github.com/shinberg/go-rediscluster/respconn"
)

func main() {
	configPath := flag.String("config", "cluster.yaml", "path to a YAML cluster config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	opts, err := cfg.ClusterOpts()
	if err != nil {
		slog.Error("config parse failed", "err", err)
		os.Exit(1)
	}

	dialTimeout := opts.Timeout
	if dialTimeout == 0 {
		dialTimeout = 2 * time.Second
	}
	connect := func(host string, port int) (resp.Conn, error) {
		return respconn.DialTimeout(host, port, dialTimeout)
	}
	disconnect := func(c resp.Conn) { c.Close() }

	c, err := cluster.Dial(connect, disconnect, opts)
	if err != nil {
		slog.Error("dial failed", "err", err)
		os.Exit(1)
	}
	defer c.Disconnect()

	listenAddr := cfg.AdminListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	s := adminhttp.New(c)
	slog.Info("clusteradmin listening", "addr", listenAddr)
	if err := s.Run(listenAddr); err != nil {
		slog.Error("admin server exited", "err", err)
		os.Exit(1)
	}
}
