// Package wire defines the JSON frame types exchanged over the
// /network/{client_id}/connect websocket, replacing the chat protocol's
// binary gateway frames with the address-routed overlay frames spec.md §6
// describes. Every frame discriminates on Type so a single io.Reader loop
// can dispatch with one type switch, the same shape as the teacher's
// deleted gateway/frame.go.
package wire

import "encoding/json"

// Type discriminates a Frame's payload.
type Type string

const (
	TypeSetClientState Type = "set-client-state"
	TypePing           Type = "ping"
	TypePong           Type = "pong"
	TypeMessage        Type = "message"
	TypeClientMessage  Type = "client-message"
	TypeUserAction     Type = "user-action"
	TypeGetRoleData    Type = "get-role-data"
	TypeProjectResp    Type = "project-response"
	TypeRequestActions Type = "request-actions"
	TypeEvict          Type = "evict"
	TypeRoomState      Type = "room-state"
)

// Frame is the outer envelope for every websocket message. Payload is kept
// raw and decoded into the concrete type matching Type, mirroring the
// teacher's discriminated-envelope pattern.
type Frame struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"-"`
}

// MarshalJSON flattens Frame so Type sits alongside the payload's own
// fields in the wire representation, matching the flat objects spec.md §6
// shows (`{"type": "message", "source_address": ..., ...}`).
func (f Frame) MarshalJSON() ([]byte, error) {
	if len(f.Payload) == 0 {
		return json.Marshal(struct {
			Type Type `json:"type"`
		}{f.Type})
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(f.Payload, &merged); err != nil {
		return nil, err
	}
	typeJSON, err := json.Marshal(f.Type)
	if err != nil {
		return nil, err
	}
	merged["type"] = typeJSON
	return json.Marshal(merged)
}

// UnmarshalJSON captures Type and keeps the full object available as
// Payload so callers can re-decode into a concrete struct.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	f.Type = probe.Type
	f.Payload = append(json.RawMessage(nil), data...)
	return nil
}

// Decode unmarshals Payload into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Payload, v)
}

// NewFrame builds a Frame of type t whose payload is the JSON encoding of
// body merged with {"type": t}.
func NewFrame(t Type, body any) (Frame, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: t, Payload: raw}, nil
}

// SetClientState declares a client's Browser or External identity.
type SetClientState struct {
	ProjectID *string `json:"project_id,omitempty"`
	RoleID    *string `json:"role_id,omitempty"`
	Address   *string `json:"address,omitempty"`
	AppID     *string `json:"app_id,omitempty"`
}

// Message is the overlay envelope routed by internal/router.
type Message struct {
	SourceAddress   string          `json:"source_address,omitempty"`
	TargetAddresses []string        `json:"target_addresses"`
	MessageType     string          `json:"msg_type"`
	Content         json.RawMessage `json:"content"`
}

// ClientMessage is a point-to-point control message that bypasses overlay
// routing semantics but shares the message envelope's addressing.
type ClientMessage struct {
	SourceAddress   string          `json:"source_address,omitempty"`
	TargetAddresses []string        `json:"target_addresses"`
	Content         json.RawMessage `json:"content"`
}

// UserAction is a collaborative edit relayed verbatim to occupants of the
// same role; the server never persists its content.
type UserAction struct {
	RoleID  string          `json:"role_id"`
	Action  json.RawMessage `json:"action"`
	SeqHint int64           `json:"seq_hint,omitempty"`
}

// GetRoleData is sent server-to-client to request a role snapshot.
type GetRoleData struct {
	RequestID string `json:"request_id"`
	RoleID    string `json:"role_id"`
}

// ProjectResponse answers a GetRoleData request.
type ProjectResponse struct {
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

// RequestActions asks the server to relay actions recorded since Seq.
type RequestActions struct {
	RoleID string `json:"role_id"`
	Seq    int64  `json:"seq"`
}

// Evict precedes a forced disconnect.
type Evict struct {
	Reason string `json:"reason,omitempty"`
}

// RoomState is broadcast whenever a room's occupancy or name changes.
type RoomState struct {
	ProjectID string              `json:"project_id"`
	Name      string              `json:"name"`
	Owner     string              `json:"owner"`
	Roles     map[string][]string `json:"roles"`
	Seq       int64               `json:"seq"`
}
