// Package command parses inbound command payloads and dispatches them to
// registered handlers, producing exactly one Result per request.
package command

import (
	"bytes"
	"context"
	"strings"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"github.com/tidwall/gjson"
)

// Supported actions.
const (
	ActionReset  = "reset"
	ActionPing   = "ping"
	ActionCfgSet = "cfg/set"
)

const (
	commandPrefix = "cmd/"
	eventPrefix   = "evt/"
	resultSuffix  = "/result"
)

// Request is an inbound command after parsing. Set is never nil.
type Request struct {
	RequestID string
	Set       map[string]any
}

// Result is published once per handled command.
type Result struct {
	Action    string         `json:"action"`
	RequestID string         `json:"request_id"`
	OK        bool           `json:"ok"`
	Applied   map[string]any `json:"applied"`
	Error     *string        `json:"error"`
	TS        string         `json:"ts"`
}

// Handler executes one action. The returned map is echoed as Result.Applied.
type Handler func(ctx context.Context, req Request) (map[string]any, error)

// ActionFromSuffix maps an inbound suffix such as "cmd/cfg/set" to its
// action.
func ActionFromSuffix(suffix string) (string, bool) {
	action, ok := strings.CutPrefix(suffix, commandPrefix)
	if !ok || action == "" {
		return "", false
	}

	return action, true
}

// CommandSuffix returns the inbound suffix for action.
func CommandSuffix(action string) string {
	return commandPrefix + action
}

// ResultSuffix returns the suffix results for action are published on.
func ResultSuffix(action string) string {
	return eventPrefix + action + resultSuffix
}

// Parse decodes a payload for action. Undecodable input yields an empty
// request and no error. Only cfg/set reads "set", and it rejects a "set"
// member that is not an object; other actions ignore the member.
func Parse(action string, payload []byte) (Request, error) {
	req := Request{Set: map[string]any{}}

	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return req, nil
	}
	if !gjson.ValidBytes(payload) {
		logger.Debug().Int("bytes", len(payload)).Msg("Malformed command payload, treating as empty")
		return req, nil
	}

	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		logger.Debug().Str("type", root.Type.String()).Msg("Command payload is not an object, treating as empty")
		return req, nil
	}

	if id := root.Get("request_id"); id.Exists() && id.Type != gjson.Null {
		req.RequestID = id.String()
	}

	if action != ActionCfgSet {
		return req, nil
	}

	set := root.Get("set")
	switch {
	case !set.Exists() || set.Type == gjson.Null:
	case set.IsObject():
		if m, ok := set.Value().(map[string]any); ok {
			req.Set = m
		}
	default:
		return req, errors.New().WithMessage(errors.ErrValidation, "payload 'set' must be an object")
	}

	return req, nil
}
