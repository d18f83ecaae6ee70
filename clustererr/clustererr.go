// Package clustererr holds the typed error taxonomy the cluster core
// raises, grounded on original_source/include/clusterexception.h. The C++
// original models this as an exception hierarchy (ClusterException ->
// CriticalException | BadStateException); here it is a flat set of error
// values, each carrying a Kind so callers can switch on the partition
// without a type hierarchy.
package clustererr

import "fmt"

// Kind categorizes a cluster error for recovery purposes.
type Kind int

const (
	// Critical errors mean the cluster must be re-initialized before any
	// further command can be trusted.
	Critical Kind = iota
	// BadState errors mean the cluster is still usable but may be stale
	// or have produced an inconsistent redirection.
	BadState
	// Misuse errors are caller bugs (bad arguments), not cluster state.
	Misuse
)

func (k Kind) String() string {
	switch k {
	case Critical:
		return "critical"
	case BadState:
		return "bad-state"
	case Misuse:
		return "misuse"
	default:
		return "unknown"
	}
}

// Error is the concrete error type every function in this module returns.
// Reply carries the offending reply for inspection when one is available
// (redirection errors, CLUSTERDOWN); it is nil for routing failures that
// never reached the wire.
type Error struct {
	Name  string
	Kind  Kind
	Msg   string
	Reply interface{}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Msg)
}

// Critical reports whether this error requires rebuilding the cluster.
func (e *Error) Critical() bool { return e.Kind == Critical }

// IsBadState reports whether the cluster is merely stale, not unusable.
func (e *Error) IsBadState() bool { return e.Kind == BadState }

func newErr(name string, kind Kind, msg string, reply interface{}) *Error {
	return &Error{Name: name, Kind: kind, Msg: msg, Reply: reply}
}

// ConnectionFailed — a connect attempt to a cluster node failed. Critical.
func ConnectionFailed(cause error) *Error {
	msg := "cluster connect failed"
	if cause != nil {
		msg = fmt.Sprintf("cluster connect failed: %s", cause)
	}
	return newErr("ConnectionFailed", Critical, msg, nil)
}

// Disconnected — a connection died mid-exchange, or a nil reply was read.
// Critical.
func Disconnected(reported string) *Error {
	e := newErr("Disconnected", Critical, "cluster host disconnected", nil)
	if reported != "" {
		e.Msg = fmt.Sprintf("cluster host disconnected: %s", reported)
	}
	return e
}

// NotInitialized — a command was issued before initialization succeeded,
// or after Stop(). Critical.
func NotInitialized() *Error {
	return newErr("NotInitialized", Critical, "cluster has not been properly initialized", nil)
}

// ClusterDown — the server reported CLUSTERDOWN. Critical.
func ClusterDown(reply interface{}) *Error {
	return newErr("ClusterDown", Critical, "cluster is going down", reply)
}

// NodeSearch — no slot-range covers the requested slot. BadState.
func NodeSearch() *Error {
	return newErr("NodeSearch", BadState, "node not found in cluster topology", nil)
}

// LogicError — a reply arrived that the redirection state machine did not
// expect (a classifier outcome it has no branch for, or an ERROR reply
// promoted by resp.CheckCritical with treatErrorAsFatal set). BadState.
// Optionally carries a more specific reason than the default message.
func LogicError(reply interface{}, reason string) *Error {
	if reason == "" {
		reason = "cluster logic error"
	}
	return newErr("LogicError", BadState, reason, reply)
}

// AskingFailed — the ASKING preamble did not succeed. BadState.
func AskingFailed(reply interface{}) *Error {
	return newErr("AskingFailed", BadState, "error while processing ASKING command", reply)
}

// MovedFailed — following a MOVED redirection failed (could not
// open/reuse the named connection, or the re-issued command itself
// failed to dispatch). BadState.
func MovedFailed(reply interface{}) *Error {
	return newErr("MovedFailed", BadState, "error while following MOVED redirection", reply)
}

// InvalidArgument — bad arguments to a cluster-level call (e.g. a command
// with no key). Misuse.
func InvalidArgument(detail string) *Error {
	msg := "cluster invalid argument"
	if detail != "" {
		msg = fmt.Sprintf("cluster invalid argument: %s", detail)
	}
	return newErr("InvalidArgument", Misuse, msg, nil)
}
