package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/eventbus"
)

func noopLogger() zerolog.Logger { return zerolog.Nop() }

type roomStateView struct {
	ProjectID string              `json:"project_id"`
	Name      string              `json:"name"`
	Owner     string              `json:"owner"`
	Roles     map[string][]string `json:"roles"`
	Seq       int64               `json:"seq"`
}

type externalClientView struct {
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Address  string `json:"address"`
	AppID    string `json:"app_id"`
}

// traceView and recordedMessageView mirror internal/router.Trace and
// RecordedMessage, which carry no json tags of their own (field names
// serialise as-is).
type traceView struct {
	ID        string
	ProjectID string
	Started   time.Time
	Ended     *time.Time
}

type recordedMessageView struct {
	ProjectID     string
	TraceID       string
	Seq           int64
	Time          time.Time
	SourceAddress string
	TargetAddress string
	Type          string
	Content       json.RawMessage
}

func runNetwork(ctx context.Context, c *client, p *printer, args []string) error {
	if len(args) < 1 {
		return userErrorf("usage: netsboxctl network <room|list|invite-occupant|evict|trace-start|trace-get|trace-delete|watch> ...")
	}
	verb, args := args[0], args[1:]

	switch verb {
	case "room":
		if _, err := requirePositional(args, 1, "netsboxctl network room <project_id>"); err != nil {
			return err
		}
		var out roomStateView
		if err := c.get(ctx, "/api/v1/network/id/"+args[0], &out); err != nil {
			return err
		}
		p.human("%s (%s)  owner=%s  seq=%d", out.Name, out.ProjectID, out.Owner, out.Seq)
		for role, occupants := range out.Roles {
			p.human("  %s: %v", role, occupants)
		}
		return p.printData(out)

	case "list":
		var out []externalClientView
		if err := c.get(ctx, "/api/v1/network", &out); err != nil {
			return err
		}
		for _, cl := range out {
			p.human("%s  %s  %s #%s", cl.ClientID, cl.Username, cl.Address, cl.AppID)
		}
		return p.printData(out)

	case "invite-occupant":
		if _, err := requirePositional(args, 3, "netsboxctl network invite-occupant <project_id> <role_id> <recipient>"); err != nil {
			return err
		}
		body := struct {
			RoleID    string `json:"role_id"`
			Recipient string `json:"recipient"`
		}{args[1], args[2]}
		var out map[string]any
		if err := c.post(ctx, "/api/v1/network/id/"+args[0]+"/occupants/invite", body, &out); err != nil {
			return err
		}
		p.human("invited %s into role %s", args[2], args[1])
		return p.printData(out)

	case "evict":
		if _, err := requirePositional(args, 1, "netsboxctl network evict <client_id> [reason]"); err != nil {
			return err
		}
		reason := ""
		if len(args) > 1 {
			reason = args[1]
		}
		body := struct {
			Reason string `json:"reason"`
		}{reason}
		var out map[string]any
		if err := c.post(ctx, "/api/v1/network/clients/"+args[0]+"/evict", body, &out); err != nil {
			return err
		}
		p.human("evicted %s", args[0])
		return p.printData(out)

	case "trace-start":
		if _, err := requirePositional(args, 1, "netsboxctl network trace-start <project_id>"); err != nil {
			return err
		}
		var out traceView
		if err := c.post(ctx, "/api/v1/network/id/"+args[0]+"/trace", nil, &out); err != nil {
			return err
		}
		p.human("started trace %s on project %s", out.ID, args[0])
		return p.printData(out)

	case "trace-get":
		if _, err := requirePositional(args, 2, "netsboxctl network trace-get <project_id> <trace_id>"); err != nil {
			return err
		}
		var out []recordedMessageView
		if err := c.get(ctx, "/api/v1/network/id/"+args[0]+"/trace/"+args[1], &out); err != nil {
			return err
		}
		for _, m := range out {
			p.human("[%d] %s -> %s (%s): %s", m.Seq, m.SourceAddress, m.TargetAddress, m.Type, string(m.Content))
		}
		return p.printData(out)

	case "trace-delete":
		if _, err := requirePositional(args, 2, "netsboxctl network trace-delete <project_id> <trace_id>"); err != nil {
			return err
		}
		var out map[string]any
		if err := c.delete(ctx, "/api/v1/network/id/"+args[0]+"/trace/"+args[1], &out); err != nil {
			return err
		}
		p.human("deleted trace %s", args[1])
		return p.printData(out)

	case "watch":
		if _, err := requirePositional(args, 1, "netsboxctl network watch <project_id> (requires NETSBOX_BUS_URL pointing at the cluster's NATS bus)"); err != nil {
			return err
		}
		return watchRoomState(ctx, p, args[0])

	default:
		return userErrorf("unknown network verb %q", verb)
	}
}

// watchRoomState prints room.state_changed domain events for projectID as
// they arrive on the control plane's event bus. Unlike every other verb,
// this does not talk to the HTTP API at all: internal/eventbus.Bus is the
// outbound notification path, so watching it directly is the only way to
// observe lifecycle transitions without holding a websocket open, which is
// exactly the capability SPEC_FULL.md's "network watch" names.
func watchRoomState(ctx context.Context, p *printer, projectID string) error {
	natsURL := os.Getenv("NETSBOX_BUS_URL")
	if natsURL == "" {
		return userErrorf("NETSBOX_BUS_URL must point at the control plane's NATS bus to watch room state")
	}
	pub, sub, err := eventbus.NewPubSub("nats", natsURL)
	if err != nil {
		return &cliError{code: exitNetworkError, msg: fmt.Sprintf("connect to event bus: %v", err)}
	}
	bus := eventbus.New(pub, sub, noopLogger())
	defer func() { _ = bus.Close() }()

	events, err := bus.SubscribeRoomStateChanged(ctx)
	if err != nil {
		return &cliError{code: exitNetworkError, msg: fmt.Sprintf("subscribe to room state events: %v", err)}
	}

	p.human("watching project %s (ctrl-c to stop)", projectID)
	for ev := range events {
		if ev.ProjectID.String() != projectID {
			continue
		}
		if p.json {
			_ = p.printData(ev)
			continue
		}
		p.human("[%s] %s -> %s", ev.At.Format(time.RFC3339), ev.ProjectID, ev.State)
	}
	return nil
}
