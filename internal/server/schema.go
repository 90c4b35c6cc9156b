package server

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Client message types accepted on the WebSocket gateway.
const (
	msgJoin             = "join"
	msgQueuePlay        = "queue_play"
	msgRetractPlay      = "retract_play"
	msgReady            = "ready"
	msgPresentationDone = "presentation_done"
	msgRequestSnapshot  = "request_snapshot"
)

// clientMessage is the decoded form of any inbound gateway message. Which
// fields are meaningful depends on Type; the schema for each type has
// already enforced presence before decoding lands here.
type clientMessage struct {
	Type        string   `json:"type"`
	MatchID     string   `json:"match_id,omitempty"`
	CombatantID string   `json:"combatant_id,omitempty"`
	Token       string   `json:"token,omitempty"`
	Name        string   `json:"name,omitempty"`
	CardID      string   `json:"card_id,omitempty"`
	TargetIDs   []string `json:"target_ids,omitempty"`
	ActionID    string   `json:"action_id,omitempty"`
}

const idPattern = `^[A-Za-z0-9_.-]{1,64}$`

var messageSchemas = map[string]*jsonschema.Schema{
	msgJoin: jsonschema.MustCompileString("join.json", `{
		"type": "object",
		"properties": {
			"type": {"const": "join"},
			"match_id": {"type": "string", "pattern": "`+idPattern+`"},
			"combatant_id": {"type": "string", "pattern": "`+idPattern+`"},
			"token": {"type": "string", "minLength": 1, "maxLength": 128},
			"name": {"type": "string", "maxLength": 64}
		},
		"required": ["type", "match_id", "combatant_id"],
		"additionalProperties": false
	}`),
	msgQueuePlay: jsonschema.MustCompileString("queue_play.json", `{
		"type": "object",
		"properties": {
			"type": {"const": "queue_play"},
			"card_id": {"type": "string", "pattern": "`+idPattern+`"},
			"target_ids": {
				"type": "array",
				"items": {"type": "string", "pattern": "`+idPattern+`"},
				"maxItems": 16
			}
		},
		"required": ["type", "card_id"],
		"additionalProperties": false
	}`),
	msgRetractPlay: jsonschema.MustCompileString("retract_play.json", `{
		"type": "object",
		"properties": {
			"type": {"const": "retract_play"},
			"action_id": {"type": "string", "minLength": 1, "maxLength": 64}
		},
		"required": ["type", "action_id"],
		"additionalProperties": false
	}`),
	msgReady: jsonschema.MustCompileString("ready.json", `{
		"type": "object",
		"properties": {
			"type": {"const": "ready"}
		},
		"required": ["type"],
		"additionalProperties": false
	}`),
	msgPresentationDone: jsonschema.MustCompileString("presentation_done.json", `{
		"type": "object",
		"properties": {
			"type": {"const": "presentation_done"},
			"action_id": {"type": "string", "minLength": 1, "maxLength": 64}
		},
		"required": ["type", "action_id"],
		"additionalProperties": false
	}`),
	msgRequestSnapshot: jsonschema.MustCompileString("request_snapshot.json", `{
		"type": "object",
		"properties": {
			"type": {"const": "request_snapshot"}
		},
		"required": ["type"],
		"additionalProperties": false
	}`),
}

// parseClientMessage validates raw against the schema for its declared
// type and decodes it. Unknown types and malformed payloads are rejected
// before any game state is touched.
func parseClientMessage(raw []byte) (clientMessage, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return clientMessage{}, fmt.Errorf("invalid JSON: %w", err)
	}

	schema, ok := messageSchemas[probe.Type]
	if !ok {
		return clientMessage{}, fmt.Errorf("unknown message type %q", probe.Type)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return clientMessage{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return clientMessage{}, fmt.Errorf("invalid %s message: %w", probe.Type, err)
	}

	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return clientMessage{}, fmt.Errorf("decoding %s message: %w", probe.Type, err)
	}
	return msg, nil
}
