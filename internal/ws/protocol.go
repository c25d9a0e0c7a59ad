package ws

import "encoding/json"

// Subprotocol is the frame vocabulary the adapter speaks.
const Subprotocol = "graphql-transport-ws"

const (
	TypeConnectionInit = "connection_init"
	TypeConnectionAck  = "connection_ack"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeSubscribe      = "subscribe"
	TypeNext           = "next"
	TypeError          = "error"
	TypeComplete       = "complete"
)

// Close codes sent before the server drops a connection.
const (
	CloseGoingAway          = 1001
	ClosePolicyViolation    = 1008
	CloseBadRequest         = 4400
	CloseUnauthorized       = 4401
	CloseInitTimeout        = 4408
	CloseSubscriberExists   = 4409
	CloseTooManyInitRequest = 4429
	CloseInternal           = 4500
)

// Frame is the envelope of every message in both directions.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SubscribePayload struct {
	OperationName string          `json:"operationName"`
	Variables     json.RawMessage `json:"variables,omitempty"`
}

type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type nextPayload struct {
	Data map[string]any `json:"data"`
}
