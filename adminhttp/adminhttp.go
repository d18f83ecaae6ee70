// Package adminhttp is a read-only introspection surface over a
// cluster.Cluster, built on gin the way code-100-precent-LingCache and
// penguintechinc-marchproxy wire their HTTP admin endpoints. It never
// issues cluster commands itself — only reports topology/flag state
// already held in memory (SPEC_FULL.md §4 domain stack).
package adminhttp

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shinberg/go-rediscluster/cluster"
)

// Server wraps a gin.Engine bound to one Cluster.
type Server struct {
	c      *cluster.Cluster
	engine *gin.Engine
}

// New builds a Server with the standard three routes registered.
func New(c *cluster.Cluster) *Server {
	engine := gin.Default()
	s := &Server{c: c, engine: engine}

	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/moved", s.handleMoved)
	engine.GET("/topology", s.handleTopology)

	return s
}

// Run starts the HTTP server on addr (blocking, like gin.Engine.Run).
func (s *Server) Run(addr string) error { return s.engine.Run(addr) }

// Handler exposes the underlying http.Handler, for callers embedding
// this into a larger mux or a test httptest.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleHealthz(c *gin.Context) {
	if !s.c.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

func (s *Server) handleMoved(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"moved": s.c.IsMoved()})
}

type slotRangeJSON struct {
	Begin    int                    `json:"begin"`
	End      int                    `json:"end"`
	Host     string                 `json:"host"`
	Port     int                    `json:"port"`
	Replicas []cluster.HostEndpoint `json:"replicas,omitempty"`
}

func (s *Server) handleTopology(c *gin.Context) {
	masters, err := s.c.Masters()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	out := make([]slotRangeJSON, 0, len(masters))
	for _, m := range masters {
		out = append(out, slotRangeJSON{
			Begin:    m.Range.Begin,
			End:      m.Range.End,
			Host:     m.Host,
			Port:     m.Port,
			Replicas: s.c.Replicas(m.Host, m.Port),
		})
	}
	c.JSON(http.StatusOK, gin.H{"slots": out})
}
