package cluster

import (
	"fmt"

	"github.com/shinberg/go-rediscluster/clustererr"
	"github.com/shinberg/go-rediscluster/container"
	"github.com/shinberg/go-rediscluster/resp"
)

// Cmd drives one command through the redirection state machine on
// blocking I/O (spec §4.5, C5). key selects the slot; argv is the
// already-formatted command (command name first). The caller owns the
// returned Reply.
//
//	START -> SEND -> READ -> classify
//	  READY        -> return reply
//	  CLUSTERDOWN  -> ClusterDown error
//	  MOVED(h,p)   -> open/get conn(h,p); cluster.Moved(); SEND -> READ -> return
//	  ASK(h,p)     -> open/get conn(h,p); ASKING; require +OK; SEND original -> READ -> return
//
// Only one level of redirection is followed; a second redirection on the
// redirected attempt is returned to the caller as whatever the reply
// says, per spec §4.5.
func (c *Cluster) Cmd(key string, argv ...string) (*resp.Reply, error) {
	if key == "" {
		return nil, clustererr.InvalidArgument("no key given to Cmd")
	}
	lease, err := c.getConnection(key)
	if err != nil {
		return nil, err
	}
	return c.runSync(lease, argv, true)
}

// CmdArgv routes argv by the key KeyFromArgv extracts from it, for
// callers that build a full argument vector before knowing which slot it
// belongs to (e.g. forwarding a parsed command line verbatim).
func (c *Cluster) CmdArgv(argv []string) (*resp.Reply, error) {
	return c.Cmd(KeyFromArgv(argv), argv...)
}

// CmdFmt is the printf-style variant of Cmd (spec §6 caller API): each
// arg is stringified with fmt.Sprint and appended to argv after cmd.
func (c *Cluster) CmdFmt(key, cmd string, args ...interface{}) (*resp.Reply, error) {
	argv := make([]string, 1, 1+len(args))
	argv[0] = cmd
	for _, a := range args {
		argv = append(argv, fmt.Sprint(a))
	}
	return c.Cmd(key, argv...)
}

// runSync sends argv on lease's connection, classifies the reply, and
// either returns it, follows one redirection, or fails. allowRedirect is
// false on the second attempt, so a redirection reply there is handed
// back to the caller unmolested rather than chased indefinitely.
func (c *Cluster) runSync(lease *container.Lease, argv []string, allowRedirect bool) (*resp.Reply, error) {
	reply, ioErr := lease.Conn.Command(argv...)
	c.release(lease)
	if ioErr != nil {
		return nil, clustererr.Disconnected(ioErr.Error())
	}

	outcome, redirect := resp.Classify(reply)
	switch outcome {
	case resp.Ready:
		return reply, nil

	case resp.ClusterDown:
		return nil, clustererr.ClusterDown(reply)

	case resp.Moved:
		if !allowRedirect {
			return reply, nil
		}
		next, err := c.CreateNewConnection(redirect.Host, redirect.Port)
		if err != nil {
			return nil, clustererr.MovedFailed(reply)
		}
		c.Moved()
		return c.runSync(next, argv, false)

	case resp.Ask:
		if !allowRedirect {
			return reply, nil
		}
		next, err := c.CreateNewConnection(redirect.Host, redirect.Port)
		if err != nil {
			return nil, clustererr.AskingFailed(reply)
		}
		askReply, askErr := next.Conn.Command("ASKING")
		if askErr != nil {
			c.release(next)
			return nil, clustererr.Disconnected(askErr.Error())
		}
		if askReply == nil || askReply.Type != resp.Status || askReply.Str != "OK" {
			c.release(next)
			return nil, clustererr.AskingFailed(askReply)
		}
		return c.runSync(next, argv, false)

	case resp.Failed:
		return nil, clustererr.Disconnected("")

	default:
		return nil, clustererr.LogicError(reply, "")
	}
}
