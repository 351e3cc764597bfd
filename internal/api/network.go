package api

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	rawws "github.com/fasthttp/websocket"
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netsbox/control-plane/internal/apierrors"
	"github.com/netsbox/control-plane/internal/httputil"
	"github.com/netsbox/control-plane/internal/project"
	"github.com/netsbox/control-plane/internal/router"
	"github.com/netsbox/control-plane/internal/social"
	"github.com/netsbox/control-plane/internal/topology"
	"github.com/netsbox/control-plane/internal/wire"
	"github.com/netsbox/control-plane/internal/witness"
)

// defaultOccupantInviteTTL bounds how long an occupant invite (spec.md
// §4.6's "invite someone into a live role") stays pending before it can no
// longer be accepted. Short relative to a friend or collaboration invite
// since it targets a session that is live right now.
const defaultOccupantInviteTTL = 5 * time.Minute

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsMaxMessage = 1 << 20
)

// NetworkHandler serves the realtime overlay's REST surface (room state,
// trace capture, eviction, occupant invites) and the websocket connect
// endpoint itself. Grounded on the teacher's internal/api/gateway.go
// upgrade handler and internal/gateway/client.go's readPump/writePump
// pair, adapted from a per-guild channel model to spec.md §4's
// project/role occupancy model.
type NetworkHandler struct {
	topo     *topology.Topology
	router   *router.Router
	traces   router.TraceStore
	projects project.Repository
	social   social.Repository
	minter   *witness.Minter
	log      zerolog.Logger
}

// NewNetworkHandler builds a NetworkHandler.
func NewNetworkHandler(topo *topology.Topology, rtr *router.Router, traces router.TraceStore, projects project.Repository, socialRepo social.Repository, minter *witness.Minter, log zerolog.Logger) *NetworkHandler {
	return &NetworkHandler{
		topo:     topo,
		router:   rtr,
		traces:   traces,
		projects: projects,
		social:   socialRepo,
		minter:   minter,
		log:      log.With().Str("component", "api.network").Logger(),
	}
}

// RoomState handles GET /network/id/{id}.
func (h *NetworkHandler) RoomState(c fiber.Ctx) error {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}
	session := optionalSession(c)
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := h.minter.MintViewProject(ctx, session, id); err != nil {
		return respondErr(c, err)
	}
	state, ok := h.topo.RoomState(id.String())
	if !ok {
		return httputil.Fail(c, apierrors.NotFound.HTTPStatus(), apierrors.NotFound, "project has no live room")
	}
	return httputil.Success(c, state)
}

type externalClientView struct {
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Address  string `json:"address"`
	AppID    string `json:"app_id"`
}

// ListExternal handles GET /network, listing every connected non-browser
// client. Restricted to admins since it surfaces every address currently
// bridged into the overlay, not just the caller's own.
func (h *NetworkHandler) ListExternal(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	if _, err := h.minter.MintIsAdmin(session); err != nil {
		return respondErr(c, err)
	}
	clients := h.topo.ExternalClients()
	views := make([]externalClientView, 0, len(clients))
	for _, cl := range clients {
		st := cl.State()
		views = append(views, externalClientView{
			ClientID: cl.ID,
			Username: cl.Username,
			Address:  st.External.Address,
			AppID:    st.External.AppID,
		})
	}
	return httputil.Success(c, views)
}

type inviteOccupantBody struct {
	RoleID    string `json:"role_id"`
	Recipient string `json:"recipient"`
}

// InviteOccupant handles POST /network/id/{id}/occupants/invite.
func (h *NetworkHandler) InviteOccupant(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}
	var body inviteOccupantBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.BadRequest.HTTPStatus(), apierrors.BadRequest, "malformed request body")
	}
	roleID, err := parseUUID(body.RoleID)
	if err != nil {
		return respondErr(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := h.minter.MintEditProject(ctx, session, id); err != nil {
		return respondErr(c, err)
	}
	invite, err := h.social.SendOccupantInvite(ctx, id, roleID, session.Username, body.Recipient, defaultOccupantInviteTTL)
	if err != nil {
		return respondErr(c, mapSocialErr(err))
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, fiber.Map{"invite_id": invite.ID})
}

type evictBody struct {
	Reason string `json:"reason"`
}

// Evict handles POST /network/clients/{client_id}/evict.
func (h *NetworkHandler) Evict(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	clientID := c.Params("client_id")
	client, ok := h.topo.Client(clientID)
	if !ok {
		return httputil.Fail(c, apierrors.NotFound.HTTPStatus(), apierrors.NotFound, "client not connected")
	}

	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	state := client.State()
	if state.Kind == topology.KindBrowser && state.Browser.ProjectID != "" {
		pid, err := parseUUID(state.Browser.ProjectID)
		if err != nil {
			return respondErr(c, err)
		}
		if _, err := h.minter.MintEditProject(ctx, session, pid); err != nil {
			return respondErr(c, err)
		}
	} else if _, err := h.minter.MintIsAdmin(session); err != nil {
		return respondErr(c, err)
	}

	var body evictBody
	_ = c.Bind().Body(&body)
	h.topo.Evict(ctx, clientID, wire.CloseEvicted, body.Reason)
	return httputil.Success(c, fiber.Map{"evicted": true})
}

// StartTrace handles POST /network/id/{id}/trace.
func (h *NetworkHandler) StartTrace(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := h.minter.MintEditProject(ctx, session, id); err != nil {
		return respondErr(c, err)
	}
	trace, err := h.traces.StartTrace(ctx, id)
	if err != nil {
		return respondErr(c, mapTraceErr(err))
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, trace)
}

// GetTrace handles GET /network/id/{id}/trace/{trace_id}.
func (h *NetworkHandler) GetTrace(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}
	traceID, err := parseUUID(c.Params("trace_id"))
	if err != nil {
		return respondErr(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := h.minter.MintEditProject(ctx, session, id); err != nil {
		return respondErr(c, err)
	}
	messages, err := h.traces.ListMessages(ctx, traceID)
	if err != nil {
		return respondErr(c, mapTraceErr(err))
	}
	return httputil.Success(c, messages)
}

// DeleteTrace handles DELETE /network/id/{id}/trace/{trace_id}.
func (h *NetworkHandler) DeleteTrace(c fiber.Ctx) error {
	session, err := requireSession(c)
	if err != nil {
		return respondErr(c, err)
	}
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return respondErr(c, err)
	}
	traceID, err := parseUUID(c.Params("trace_id"))
	if err != nil {
		return respondErr(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	if _, err := h.minter.MintEditProject(ctx, session, id); err != nil {
		return respondErr(c, err)
	}
	if err := h.traces.DeleteTrace(ctx, traceID); err != nil {
		return respondErr(c, mapTraceErr(err))
	}
	return httputil.Success(c, fiber.Map{"deleted": true})
}

func mapTraceErr(err error) error {
	switch {
	case errors.Is(err, router.ErrTraceNotFound):
		return apierrors.Wrap(apierrors.NotFound, "trace not found", err)
	case errors.Is(err, router.ErrConflict):
		return apierrors.Wrap(apierrors.Conflict, "a trace is already active for this project", err)
	default:
		return err
	}
}

// wsSink adapts a raw fasthttp/websocket.Conn to topology.Sink.
type wsSink struct {
	conn *rawws.Conn
}

func (s *wsSink) WriteMessage(data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(rawws.TextMessage, data)
}

func (s *wsSink) Close() error {
	return s.conn.Close()
}

// Connect upgrades GET /network/{client_id}/connect to a websocket and runs
// the connection's read loop until it closes. The client ID is the one a
// prior GET /configuration call already minted, so the overlay can
// correlate a client across its HTTP bootstrap and its websocket leg. An
// external client (mobile runtime, services gateway) that was dropped
// briefly can pass ?resume_seq=N to reconnect under the same client ID and
// have frames it missed since sequence N replayed before normal traffic
// resumes.
func (h *NetworkHandler) Connect(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return respondErr(c, apierrors.New(apierrors.BadRequest, "expected websocket upgrade"))
	}
	clientID := c.Params("client_id")
	username := ""
	if session := optionalSession(c); session != nil {
		username = session.Username
	} else {
		username = c.Query("username")
	}
	resumeSeq := int64(-1)
	if raw := c.Query("resume_seq"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			resumeSeq = n
		}
	}

	return websocket.New(func(conn *websocket.Conn) {
		h.serve(conn.Conn, clientID, username, resumeSeq)
	})(c)
}

// serve runs clientID's read pump until the socket closes, mirroring the
// teacher's gateway.Client.readPump: one blocking ReadMessage loop, a
// deferred unregister, and a read deadline refreshed on every frame since
// this overlay's liveness signal is the client's own ping frame, not a
// transport-level pong.
func (h *NetworkHandler) serve(conn *rawws.Conn, clientID, username string, resumeSeq int64) {
	sink := &wsSink{conn: conn}
	h.topo.ConnectWithID(clientID, username, sink)

	if resumeSeq >= 0 {
		if h.topo.Resume(context.Background(), clientID, resumeSeq) {
			h.log.Debug().Str("client_id", clientID).Int64("resume_seq", resumeSeq).Msg("resumed client session")
		}
	}

	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

	reason := topology.DisconnectAway
	defer func() {
		h.topo.Disconnect(context.Background(), clientID, reason)
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if rawws.IsUnexpectedCloseError(err, rawws.CloseGoingAway, rawws.CloseNormalClosure) {
				reason = topology.DisconnectBroken
				h.log.Debug().Err(err).Str("client_id", clientID).Msg("websocket closed unexpectedly")
			} else {
				reason = topology.DisconnectNormal
			}
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var frame wire.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.log.Debug().Err(err).Str("client_id", clientID).Msg("malformed frame")
			continue
		}
		h.dispatch(context.Background(), clientID, frame)
	}
}

func (h *NetworkHandler) dispatch(ctx context.Context, clientID string, frame wire.Frame) {
	switch frame.Type {
	case wire.TypeSetClientState:
		var payload wire.SetClientState
		if err := frame.Decode(&payload); err != nil {
			return
		}
		h.applyClientState(ctx, clientID, payload)
	case wire.TypeMessage:
		var msg wire.Message
		if err := frame.Decode(&msg); err != nil {
			return
		}
		if err := h.router.Route(ctx, clientID, msg.SourceAddress, msg.TargetAddresses, msg.MessageType, msg.Content); err != nil {
			h.log.Debug().Err(err).Str("client_id", clientID).Msg("route failed")
		}
	case wire.TypeClientMessage:
		var msg wire.ClientMessage
		if err := frame.Decode(&msg); err != nil {
			return
		}
		if err := h.router.Route(ctx, clientID, msg.SourceAddress, msg.TargetAddresses, string(wire.TypeClientMessage), msg.Content); err != nil {
			h.log.Debug().Err(err).Str("client_id", clientID).Msg("route failed")
		}
	case wire.TypeUserAction:
		var action wire.UserAction
		if err := frame.Decode(&action); err != nil {
			return
		}
		h.router.RelayUserAction(clientID, action)
	case wire.TypeRequestActions:
		var req wire.RequestActions
		if err := frame.Decode(&req); err != nil {
			return
		}
		h.router.RelayRequestActions(clientID, req)
	case wire.TypeProjectResp:
		var resp wire.ProjectResponse
		if err := frame.Decode(&resp); err != nil {
			return
		}
		h.router.HandleProjectResponse(resp)
	case wire.TypePing:
		if reply, err := wire.NewFrame(wire.TypePong, struct{}{}); err == nil {
			_ = h.topo.Send(clientID, &reply)
		}
	default:
		h.log.Debug().Str("client_id", clientID).Str("type", string(frame.Type)).Msg("unhandled frame type")
	}
}

func (h *NetworkHandler) applyClientState(ctx context.Context, clientID string, payload wire.SetClientState) {
	if payload.ProjectID != nil && payload.RoleID != nil {
		pid, err := uuid.Parse(*payload.ProjectID)
		if err != nil {
			return
		}
		p, err := h.projects.GetByID(ctx, pid)
		if err != nil {
			return
		}
		state := topology.State{
			Kind:    topology.KindBrowser,
			Browser: topology.BrowserState{ProjectID: *payload.ProjectID, RoleID: *payload.RoleID},
		}
		_ = h.topo.SetState(ctx, clientID, p.Name, p.Owner, state)
		return
	}
	if payload.Address != nil {
		appID := ""
		if payload.AppID != nil {
			appID = *payload.AppID
		}
		client, ok := h.topo.Client(clientID)
		username := ""
		if ok {
			username = client.Username
		}
		state := topology.State{
			Kind:     topology.KindExternal,
			External: topology.ExternalState{Address: *payload.Address, User: username, AppID: appID},
		}
		_ = h.topo.SetState(ctx, clientID, "", "", state)
	}
}
