package resp

// Conn is the narrow synchronous Transport contract the cluster core
// consumes (spec §6). It is deliberately thin: formatting a command,
// writing it, and reading exactly one reply. Everything about sockets,
// TLS, auth, and reply parsing lives on the other side of this interface
// (respconn.Conn is this module's one concrete implementation).
type Conn interface {
	// Command formats argv as a single Redis command, writes it, and
	// blocks for exactly one reply. It is the synchronous equivalent of
	// hiredis's redisCommandArgv.
	Command(argv ...string) (*Reply, error)

	// Errored reports the connection's observable error_state: once
	// true the connection is unusable and must be replaced, never
	// reused.
	Errored() bool

	// Subscribed reports whether the connection has been moved into
	// pub/sub mode. A subscribed connection must not be torn down on
	// ordinary command completion/redirection cleanup.
	Subscribed() bool

	// Close tears down the connection.
	Close() error
}

// ReplyCallback is invoked with the reply to an async-dispatched command,
// or with a non-nil err (never both) when the transport could not
// produce one (disconnect, write failure).
type ReplyCallback func(*Reply, error)

// AsyncConn is the non-blocking Transport contract C6 drives. Dispatch
// returns as soon as the command is queued for write; cb fires later from
// whatever goroutine/event loop the concrete transport uses to pump I/O.
type AsyncConn interface {
	Conn

	// Dispatch queues argv for write and arranges for cb to be invoked
	// with the reply. A non-nil error return means the command could not
	// even be queued (cb will never fire for this call).
	Dispatch(cb ReplyCallback, argv ...string) error

	// OnDisconnect registers a callback fired exactly once when the
	// transport notices this connection has died, whether from a read
	// error or an explicit Close. It replaces the source's process-wide
	// "known disconnected" set (see DESIGN NOTES): disconnect
	// notification is now routed per-connection, to whoever owns it.
	OnDisconnect(func())
}

// ConnectFunc dials a new connection to host:port. It is supplied by the
// caller of Cluster construction, mirroring pt2RedisConnectFunc in the
// C++ original.
type ConnectFunc func(host string, port int) (Conn, error)

// DisconnectFunc tears down a connection created by a ConnectFunc.
type DisconnectFunc func(Conn)
