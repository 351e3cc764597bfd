package wire

// CloseCode enumerates the application-level websocket close codes this
// server sends, in the 4000-4999 private-use range reserved by RFC 6455,
// the same range the teacher's gateway used for its own close codes.
type CloseCode int

const (
	CloseNormal          CloseCode = 1000
	CloseGoingAway       CloseCode = 1001
	CloseEvicted         CloseCode = 4000
	CloseDuplicateClient CloseCode = 4001
	CloseBackpressure    CloseCode = 4002
	CloseServerShutdown  CloseCode = 4003
)

// String returns a short human label for logging.
func (c CloseCode) String() string {
	switch c {
	case CloseNormal:
		return "normal"
	case CloseGoingAway:
		return "going_away"
	case CloseEvicted:
		return "evicted"
	case CloseDuplicateClient:
		return "duplicate_client"
	case CloseBackpressure:
		return "backpressure"
	case CloseServerShutdown:
		return "server_shutdown"
	default:
		return "unknown"
	}
}
