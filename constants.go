package realtime

// Reserved event types emitted by the kernel. Handlers cannot register these.
const (
	// SystemAck acknowledges a message that carried an ack token. Its
	// payload is {ack: <token>}.
	SystemAck = "system:ack"

	// SystemError reports an isolated handler failure to the originator.
	// Its payload is {message, details?}.
	SystemError = "system:error"

	// SystemReply is the type produced by the string form of Toolkit reply.
	// Its payload is {message: <text>}.
	SystemReply = "system:reply"
)

// SystemPrefix guards the reserved event namespace.
const SystemPrefix = "system:"

// Wildcard is the handler registration key matching every message type.
const Wildcard = "*"

// Transport name tags stamped on ClientContext.Transport.
const (
	TransportWebSocket = "websocket"
	TransportMesh      = "mesh"
)

// Standard error messages
const (
	// Protocol errors
	ErrInvalidMessage = "invalid message"
	ErrMissingType    = "message type is required"

	// Dispatch errors
	ErrReservedType      = "cannot register reserved system event type"
	ErrNilHandler        = "handler must not be nil"
	ErrTemplateParams    = "template parameter count does not match placeholders"
	ErrInternalHandler   = "Internal handler error"
	ErrConnectionClosed  = "connection is closed"
	ErrKernelNotStarted  = "kernel is not started"
	ErrTransportRequired = "transport must not be nil"
)
