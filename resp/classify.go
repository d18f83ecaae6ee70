package resp

import (
	"strconv"
	"strings"

	"github.com/shinberg/go-rediscluster/clustererr"
)

// Outcome is the result of classifying a reply against the cluster
// redirection protocol (spec §4.2).
type Outcome int

const (
	Ready Outcome = iota
	Moved
	Ask
	ClusterDown
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Ready:
		return "READY"
	case Moved:
		return "MOVED"
	case Ask:
		return "ASK"
	case ClusterDown:
		return "CLUSTERDOWN"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Redirect carries the node a MOVED/ASK reply named.
type Redirect struct {
	Slot int
	Host string
	Port int
}

// Classify inspects a reply and returns its routing outcome plus the
// redirect target when the outcome is Moved or Ask. A nil reply (the
// transport produced no reply at all — a dead connection) classifies as
// Failed. Classify never retains r; the caller owns it.
func Classify(r *Reply) (Outcome, Redirect) {
	if r == nil {
		return Failed, Redirect{}
	}
	if r.Type != Error {
		return Ready, Redirect{}
	}

	msg := r.Str
	switch {
	case strings.HasPrefix(msg, "MOVED "):
		slot, host, port := parseRedirect(msg)
		return Moved, Redirect{Slot: slot, Host: host, Port: port}
	case strings.HasPrefix(msg, "ASK "):
		slot, host, port := parseRedirect(msg)
		return Ask, Redirect{Slot: slot, Host: host, Port: port}
	case strings.HasPrefix(msg, "CLUSTERDOWN"):
		return ClusterDown, Redirect{}
	default:
		// A normal command error (WRONGTYPE, etc). Not a routing failure;
		// it is the caller's problem, flows through as-is.
		return Ready, Redirect{}
	}
}

// parseRedirect parses "<slot> <host>:<port>" out of a MOVED/ASK message.
// Host is the text between the second space and the last colon (so an
// IPv6 host with embedded colons still splits correctly on the port's
// colon); port is everything after the last colon.
func parseRedirect(msg string) (slot int, host string, port int) {
	parts := strings.SplitN(msg, " ", 3)
	if len(parts) < 3 {
		return 0, "", 0
	}
	slot, _ = strconv.Atoi(parts[1])
	hostport := parts[2]
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 {
		return slot, hostport, 0
	}
	host = hostport[:idx]
	port, _ = strconv.Atoi(hostport[idx+1:])
	return slot, host, port
}

// CheckCritical short-circuits a reply before the redirection state
// machine looks at it: a nil reply means the transport disconnected; a
// CLUSTERDOWN reply is always critical; and, when treatErrorAsFatal is
// set, any ERROR reply is promoted to a LogicError. Returns nil when the
// reply should proceed to Classify/normal handling. The executors in
// package cluster and asyncexec do not call it; they classify replies
// with Classify directly.
func CheckCritical(r *Reply, treatErrorAsFatal bool) *clustererr.Error {
	if r == nil {
		return clustererr.Disconnected("")
	}
	if r.Type == Error {
		if strings.HasPrefix(r.Str, "CLUSTERDOWN") {
			return clustererr.ClusterDown(r)
		}
		if treatErrorAsFatal {
			return clustererr.LogicError(r, r.Str)
		}
	}
	return nil
}
