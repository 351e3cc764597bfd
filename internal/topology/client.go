// Package topology owns the in-memory registry of connected clients and the
// rooms (projects with any occupant) they belong to. It is the realtime
// overlay's core state: everything else (address resolution, routing,
// project lifecycle transitions) observes or mutates it.
//
// Grounded on the teacher's deleted internal/gateway/client.go + hub.go: the
// single-outbound-channel-per-connection idiom, the backpressure-drops-client
// enqueue logic, and the done/closeOnce shutdown signalling are kept
// verbatim in spirit; the chat-specific Identify/Resume/heartbeat opcodes are
// replaced by the project/role occupancy model of spec.md §3-4.2.
package topology

import (
	"sync"
	"sync/atomic"

	"github.com/netsbox/control-plane/internal/wire"
)

// outboundCapacity is the default size of a client's outbound frame queue,
// matching the teacher's gateway.Client send-channel capacity.
const outboundCapacity = 256

// Sink is the write side of a live connection, implemented by the websocket
// layer (internal/api) so this package stays free of any transport
// dependency.
type Sink interface {
	WriteMessage(data []byte) error
	Close() error
}

// Kind discriminates the three possible shapes of Client.State.
type Kind int

const (
	KindUnknown Kind = iota
	KindBrowser
	KindExternal
)

// BrowserState is held by a client running a project role in the in-browser
// IDE. Per spec.md §3, "Client (in-memory)".
type BrowserState struct {
	ProjectID string
	RoleID    string
}

// ExternalState is held by a non-browser client (mobile runtime, services
// gateway) addressed directly by (address, app).
type ExternalState struct {
	Address string
	User    string
	AppID   string
}

// State is the tagged union of a client's connection state.
type State struct {
	Kind     Kind
	Browser  BrowserState
	External ExternalState
}

// Client is a single live websocket connection. A given username may own
// several Clients simultaneously (spec.md §3).
type Client struct {
	ID       string
	Username string // "" for an anonymous/unauthenticated connection

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	sink      Sink
	dropped   atomic.Bool
	seq       atomic.Int64

	mu    sync.RWMutex
	state State
}

func newClient(id, username string, sink Sink) *Client {
	return &Client{
		ID:       id,
		Username: username,
		send:     make(chan []byte, outboundCapacity),
		done:     make(chan struct{}),
		sink:     sink,
	}
}

// State returns a copy of the client's current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// nextSeq advances and returns this client's outbound frame sequence number,
// used to key its resumable replay buffer.
func (c *Client) nextSeq() int64 { return c.seq.Add(1) }

// currentSeq returns the sequence number of the last frame sent to this
// client without advancing it.
func (c *Client) currentSeq() int64 { return c.seq.Load() }

// setSeq restores a sequence number after a resume, so subsequently-sent
// frames continue numbering from where a replayed session left off.
func (c *Client) setSeq(n int64) { c.seq.Store(n) }

// Dropped reports whether the client was dropped due to sustained
// backpressure (outbound queue full) rather than a clean disconnect.
func (c *Client) Dropped() bool {
	return c.dropped.Load()
}

// enqueue places a frame on the outbound queue without blocking. On a full
// queue the client is treated as unresponsive: it is marked dropped and its
// connection is closed, mirroring the teacher's gateway.Client.enqueue.
func (c *Client) enqueue(payload []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- payload:
	case <-c.done:
	default:
		c.dropped.Store(true)
		c.closeSend()
		_ = c.sink.Close()
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump drains the outbound queue to the sink until the client is closed
// or a write fails. Call it in its own goroutine after Connect.
func (c *Client) writePump() {
	defer func() { _ = c.sink.Close() }()
	for {
		select {
		case msg := <-c.send:
			if err := c.sink.WriteMessage(msg); err != nil {
				c.closeSend()
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					if err := c.sink.WriteMessage(msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// sendFrame marshals and enqueues a wire frame.
func (c *Client) sendFrame(f *wire.Frame) error {
	data, err := f.MarshalJSON()
	if err != nil {
		return err
	}
	c.enqueue(data)
	return nil
}
