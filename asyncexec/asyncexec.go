// Package asyncexec implements the Async Command Executor (C6): the same
// redirection state machine as package cluster's sync executor, expressed
// as callbacks over a non-blocking resp.AsyncConn (spec §4.6).
//
// The C++ original (original_source/include/asynchirediscommand.h) heap-
// allocates a Command that deletes itself from inside its own callback,
// and papers over the resulting use-after-free risk with a process-wide
// "known disconnected" singleton (disconnectedconnections.h). Per the
// REDESIGN FLAGS in spec.md §9, this package replaces both: an Executor
// holds the set of live Commands keyed by an explicit uuid (so there is
// no self-deleting object and no ambient global), and disconnect
// notifications are routed per-connection through the owning Cluster
// (Cluster.InvalidateHost) rather than through a singleton.
package asyncexec

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/shinberg/go-rediscluster/cluster"
	"github.com/shinberg/go-rediscluster/clustererr"
	"github.com/shinberg/go-rediscluster/container"
	"github.com/shinberg/go-rediscluster/resp"
)

var errNotAsync = errors.New("asyncexec: connection does not implement resp.AsyncConn")

// State names the point in the redirection state machine an error was
// raised from, handed to the user error callback so it can make an
// informed Retry/Finish decision (spec §4.6).
type State int

const (
	StateSend State = iota
	StateAsk
	StateMoved
	StateClusterDown
	StateLogic
)

func (s State) String() string {
	switch s {
	case StateSend:
		return "SEND"
	case StateAsk:
		return "ASK"
	case StateMoved:
		return "MOVED"
	case StateClusterDown:
		return "CLUSTERDOWN"
	case StateLogic:
		return "LOGIC"
	default:
		return "UNKNOWN"
	}
}

// Action is the outcome the user error callback returns (spec §4.6,
// replacing the source's throw/catch with an outcome value per the
// REDESIGN FLAGS).
type Action int

const (
	// Finish delivers whatever reply is available (possibly none) to
	// the reply callback and destroys the Command.
	Finish Action = iota
	// Retry re-dispatches the command on its current connection exactly
	// once. A second failure is reported as Disconnected and the
	// Command is destroyed regardless of what this returns next.
	Retry
)

// ReplyCallback receives the terminal reply for a command. It is never
// invoked concurrently with itself for the same Command.
type ReplyCallback func(*resp.Reply)

// ErrorCallback is offered every error the state machine raises; its
// return value governs recovery (spec §4.6/§7).
type ErrorCallback func(err *clustererr.Error, state State) Action

// Executor drives commands for one Cluster. It owns the registry of live
// Commands so that a Command's lifetime is explicit, not self-managed.
type Executor struct {
	c *cluster.Cluster

	mu   sync.Mutex
	live map[uuid.UUID]*Command
}

// New builds an Executor bound to c.
func New(c *cluster.Cluster) *Executor {
	return &Executor{c: c, live: make(map[uuid.UUID]*Command)}
}

func (e *Executor) register(cmd *Command) {
	e.mu.Lock()
	e.live[cmd.id] = cmd
	e.mu.Unlock()
}

func (e *Executor) unregister(cmd *Command) {
	e.mu.Lock()
	delete(e.live, cmd.id)
	e.mu.Unlock()
}

// Live returns the number of commands currently in flight (test/
// introspection hook).
func (e *Executor) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

// Command is a single end-to-end command exchange, possibly spanning
// several reply cycles (ASK/MOVED/RETRY). It self-destructs (is removed
// from its Executor's registry) on a terminal outcome, unless its bound
// connection is subscribed (spec §3 Command Payload lifecycle).
type Command struct {
	id   uuid.UUID
	exec *Executor

	key  string
	argv []string

	onReply ReplyCallback
	onError ErrorCallback

	mu         sync.Mutex
	lease      *container.Lease
	redirected bool
	retried    bool
}

// ID is this command's registry key.
func (cmd *Command) ID() uuid.UUID { return cmd.id }

// Dispatch acquires a connection for key, sends argv, and returns
// immediately; onReply and onError fire later from the connection's
// event loop. A non-nil error here means dispatch failed synchronously
// (construction-time failure, spec §4.6) and neither callback will ever
// fire for this call.
func (e *Executor) Dispatch(key string, argv []string, onReply ReplyCallback, onError ErrorCallback) (*Command, error) {
	lease, err := e.c.Acquire(key)
	if err != nil {
		return nil, err
	}

	cmd := &Command{
		id:      uuid.New(),
		exec:    e,
		key:     key,
		argv:    argv,
		onReply: onReply,
		onError: onError,
		lease:   lease,
	}
	e.register(cmd)

	if err := cmd.send(lease, false); err != nil {
		e.unregister(cmd)
		e.c.Release(lease)
		return nil, clustererr.Disconnected(err.Error())
	}
	return cmd, nil
}

func (cmd *Command) currentLease() *container.Lease {
	cmd.mu.Lock()
	defer cmd.mu.Unlock()
	return cmd.lease
}

// swapLease installs l as the current lease and returns the one it
// replaced, so the caller can release it.
func (cmd *Command) swapLease(l *container.Lease) *container.Lease {
	cmd.mu.Lock()
	old := cmd.lease
	cmd.lease = l
	cmd.mu.Unlock()
	return old
}

func (cmd *Command) alreadyRedirected() bool {
	cmd.mu.Lock()
	defer cmd.mu.Unlock()
	return cmd.redirected
}

func (cmd *Command) markRedirected() {
	cmd.mu.Lock()
	cmd.redirected = true
	cmd.mu.Unlock()
}

// send dispatches either the original argv, or (isAsking) the literal
// ASKING preamble, on lease's connection.
func (cmd *Command) send(lease *container.Lease, isAsking bool) error {
	ac, ok := lease.Conn.(resp.AsyncConn)
	if !ok {
		return errNotAsync
	}
	if isAsking {
		return ac.Dispatch(cmd.onAskingReply, "ASKING")
	}
	return ac.Dispatch(cmd.onCommandReply, cmd.argv...)
}

// onCommandReply is the async equivalent of spec §4.5's classify step,
// expressed per §4.6: READY delivers, MOVED/ASK redirect (acquiring and
// tracking a disconnect callback on the new connection), CLUSTERDOWN and
// an unexpected state raise through the error callback. Only one
// redirection is ever chased per command, mirroring runSync's
// allowRedirect=false on the second attempt (spec §4.5): once
// cmd.redirected is set, a further MOVED/ASK is delivered to the caller
// as-is rather than followed again.
func (cmd *Command) onCommandReply(reply *resp.Reply, ioErr error) {
	if ioErr != nil {
		cmd.fail(clustererr.Disconnected(ioErr.Error()), StateSend, reply)
		return
	}

	outcome, redirect := resp.Classify(reply)
	switch outcome {
	case resp.Ready:
		cmd.finish(reply)

	case resp.ClusterDown:
		cmd.fail(clustererr.ClusterDown(reply), StateClusterDown, reply)

	case resp.Moved:
		if cmd.alreadyRedirected() {
			cmd.finish(reply)
			return
		}
		cmd.onMoved(redirect, reply)

	case resp.Ask:
		if cmd.alreadyRedirected() {
			cmd.finish(reply)
			return
		}
		cmd.onAsk(redirect, reply)

	case resp.Failed:
		cmd.fail(clustererr.Disconnected(""), StateSend, nil)

	default:
		cmd.fail(clustererr.LogicError(reply, ""), StateLogic, reply)
	}
}

func (cmd *Command) trackDisconnect(lease *container.Lease) {
	if ac, ok := lease.Conn.(resp.AsyncConn); ok {
		host, port := lease.Host, lease.Port
		ac.OnDisconnect(func() { cmd.exec.c.InvalidateHost(host, port) })
	}
}

func (cmd *Command) onMoved(redirect resp.Redirect, reply *resp.Reply) {
	next, err := cmd.exec.c.CreateNewConnection(redirect.Host, redirect.Port)
	if err != nil {
		cmd.fail(clustererr.MovedFailed(reply), StateMoved, reply)
		return
	}
	cmd.exec.c.Moved()
	cmd.trackDisconnect(next)
	cmd.markRedirected()
	// The slot-range lease is released before the redirect is followed,
	// the same way runSync does (spec §4.5), so a Pooled container's
	// borrowed slot comes back instead of leaking.
	prev := cmd.swapLease(next)
	cmd.exec.c.Release(prev)
	if err := cmd.send(next, false); err != nil {
		cmd.fail(clustererr.MovedFailed(reply), StateMoved, reply)
	}
}

func (cmd *Command) onAsk(redirect resp.Redirect, reply *resp.Reply) {
	next, err := cmd.exec.c.CreateNewConnection(redirect.Host, redirect.Port)
	if err != nil {
		cmd.fail(clustererr.AskingFailed(reply), StateAsk, reply)
		return
	}
	cmd.trackDisconnect(next)
	cmd.markRedirected()
	prev := cmd.swapLease(next)
	cmd.exec.c.Release(prev)
	if err := cmd.send(next, true); err != nil {
		cmd.fail(clustererr.AskingFailed(reply), StateAsk, reply)
	}
}

// onAskingReply requires a literal +OK before re-dispatching the
// original command on the same redirection connection (spec §4.6).
func (cmd *Command) onAskingReply(reply *resp.Reply, ioErr error) {
	if ioErr != nil {
		cmd.fail(clustererr.Disconnected(ioErr.Error()), StateAsk, reply)
		return
	}
	if reply == nil || reply.Type != resp.Status || reply.Str != "OK" {
		cmd.fail(clustererr.AskingFailed(reply), StateAsk, reply)
		return
	}
	if err := cmd.send(cmd.currentLease(), false); err != nil {
		cmd.fail(clustererr.AskingFailed(reply), StateAsk, reply)
	}
}

// fail offers err to the user error callback (if any) and acts on its
// Action, per spec §4.6/§7: no callback behaves as Finish.
func (cmd *Command) fail(err *clustererr.Error, state State, lastReply *resp.Reply) {
	if cmd.onError == nil {
		cmd.terminate(lastReply)
		return
	}

	cmd.mu.Lock()
	alreadyRetried := cmd.retried
	cmd.mu.Unlock()
	if alreadyRetried {
		cmd.onError(clustererr.Disconnected(""), state)
		cmd.terminate(lastReply)
		return
	}

	action := cmd.onError(err, state)
	if action != Retry {
		cmd.terminate(lastReply)
		return
	}

	cmd.mu.Lock()
	cmd.retried = true
	cmd.mu.Unlock()

	// Retry always re-dispatches the original command, never a repeat of
	// the ASKING preamble, per spec §4.6 scenario 4.
	lease := cmd.currentLease()
	if sendErr := cmd.send(lease, false); sendErr != nil {
		cmd.onError(clustererr.Disconnected(sendErr.Error()), state)
		cmd.terminate(lastReply)
	}
}

// finish delivers a successful reply. A subscribed connection's Command
// stays registered to keep receiving pub/sub pushes (spec §4.6 step 2).
func (cmd *Command) finish(reply *resp.Reply) {
	if cmd.onReply != nil {
		cmd.onReply(reply)
	}
	lease := cmd.currentLease()
	if lease.Conn.Subscribed() {
		return
	}
	cmd.exec.unregister(cmd)
	cmd.exec.c.Release(lease)
}

// terminate delivers whatever reply is available (possibly nil) and
// removes the command from its executor's registry.
func (cmd *Command) terminate(lastReply *resp.Reply) {
	if cmd.onReply != nil {
		cmd.onReply(lastReply)
	}
	cmd.exec.unregister(cmd)
	cmd.exec.c.Release(cmd.currentLease())
}
