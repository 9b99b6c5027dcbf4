package command

import (
	"context"
	"encoding/json"
	"testing"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTS = "2024-01-01T00:00:00.000000Z"

func newTestDispatcher() *Dispatcher {
	d := NewDispatcher(func() string { return testTS })
	d.Register(ActionPing, func(context.Context, Request) (map[string]any, error) { return nil, nil })

	return d
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		id      string
		set     map[string]any
		wantErr bool
	}{
		{name: "empty", payload: "", set: map[string]any{}},
		{name: "malformed", payload: "{not json", set: map[string]any{}},
		{name: "array", payload: `[1,2]`, set: map[string]any{}},
		{name: "string id", payload: `{"request_id":"abc"}`, id: "abc", set: map[string]any{}},
		{name: "numeric id", payload: `{"request_id":42}`, id: "42", set: map[string]any{}},
		{name: "null set", payload: `{"request_id":"x","set":null}`, id: "x", set: map[string]any{}},
		{
			name:    "object set",
			payload: `{"set":{"logs_enabled":true,"telemetry":{"metrics":{"load":{"interval_s":5}}}}}`,
			set: map[string]any{
				"logs_enabled": true,
				"telemetry": map[string]any{
					"metrics": map[string]any{"load": map[string]any{"interval_s": float64(5)}},
				},
			},
		},
		{name: "string set", payload: `{"request_id":"r","set":"not-an-object"}`, id: "r", wantErr: true},
		{name: "array set", payload: `{"set":[1]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Parse(ActionCfgSet, []byte(tt.payload))
			assert.Equal(t, tt.id, req.RequestID)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, "payload 'set' must be an object", err.Error())
				assert.True(t, errors.HasCode(err, errors.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.set, req.Set)
		})
	}
}

func TestParseIgnoresSetOutsideCfgSet(t *testing.T) {
	for _, action := range []string{ActionPing, ActionReset} {
		req, err := Parse(action, []byte(`{"request_id":"r1","set":5}`))
		require.NoError(t, err, action)
		assert.Equal(t, "r1", req.RequestID)
		assert.Empty(t, req.Set)
	}
}

func TestSuffixes(t *testing.T) {
	action, ok := ActionFromSuffix("cmd/cfg/set")
	assert.True(t, ok)
	assert.Equal(t, ActionCfgSet, action)

	_, ok = ActionFromSuffix("evt/ping/result")
	assert.False(t, ok)
	_, ok = ActionFromSuffix("cmd/")
	assert.False(t, ok)

	assert.Equal(t, "cmd/ping", CommandSuffix(ActionPing))
	assert.Equal(t, "evt/cfg/set/result", ResultSuffix(ActionCfgSet))
}

func TestDispatchPingWithoutPayload(t *testing.T) {
	res := newTestDispatcher().Dispatch(context.Background(), ActionPing, nil)

	assert.Equal(t, Result{Action: ActionPing, RequestID: "", OK: true, TS: testTS}, res)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"action":"ping","request_id":"","ok":true,"applied":null,"error":null,"ts":"2024-01-01T00:00:00.000000Z"}`,
		string(raw))
}

func TestDispatchPingIgnoresSet(t *testing.T) {
	d := newTestDispatcher()
	d.Register(ActionReset, func(context.Context, Request) (map[string]any, error) { return nil, nil })

	for _, action := range []string{ActionPing, ActionReset} {
		res := d.Dispatch(context.Background(), action, []byte(`{"request_id":"r1","set":5}`))

		assert.True(t, res.OK, action)
		assert.Nil(t, res.Error, action)
		assert.Equal(t, "r1", res.RequestID)
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	res := newTestDispatcher().Dispatch(context.Background(), "reboot", []byte(`{"request_id":"7"}`))

	assert.False(t, res.OK)
	assert.Equal(t, "7", res.RequestID)
	require.NotNil(t, res.Error)
	assert.Equal(t, "unknown action: reboot", *res.Error)
}

func TestDispatchInvalidSet(t *testing.T) {
	called := false
	d := newTestDispatcher()
	d.Register(ActionCfgSet, func(context.Context, Request) (map[string]any, error) {
		called = true
		return nil, nil
	})

	res := d.Dispatch(context.Background(), ActionCfgSet, []byte(`{"request_id":"r1","set":"nope"}`))

	assert.False(t, called)
	assert.False(t, res.OK)
	assert.Equal(t, "r1", res.RequestID)
	require.NotNil(t, res.Error)
	assert.Equal(t, "payload 'set' must be an object", *res.Error)
	assert.Nil(t, res.Applied)
}

func TestDispatchHandlerResult(t *testing.T) {
	d := newTestDispatcher()
	d.Register(ActionCfgSet, func(_ context.Context, req Request) (map[string]any, error) {
		return map[string]any{"logs_enabled": req.Set["logs_enabled"]}, nil
	})

	res := d.Dispatch(context.Background(), ActionCfgSet, []byte(`{"set":{"logs_enabled":true}}`))

	assert.True(t, res.OK)
	assert.Nil(t, res.Error)
	assert.Equal(t, map[string]any{"logs_enabled": true}, res.Applied)
}

func TestDispatchHandlerError(t *testing.T) {
	d := newTestDispatcher()
	d.Register(ActionCfgSet, func(context.Context, Request) (map[string]any, error) {
		return map[string]any{"ignored": true}, errors.New().WithMessage(errors.ErrValidation, "bad field")
	})

	res := d.Dispatch(context.Background(), ActionCfgSet, []byte(`{}`))

	assert.False(t, res.OK)
	assert.Nil(t, res.Applied)
	require.NotNil(t, res.Error)
	assert.Equal(t, "bad field", *res.Error)
}

func TestDispatchRecoversPanic(t *testing.T) {
	d := newTestDispatcher()
	d.Register(ActionReset, func(context.Context, Request) (map[string]any, error) {
		panic("boom")
	})

	var res Result
	require.NotPanics(t, func() {
		res = d.Dispatch(context.Background(), ActionReset, nil)
	})
	assert.False(t, res.OK)
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "boom")
}

func TestActionsKeepsRegistrationOrder(t *testing.T) {
	d := newTestDispatcher()
	d.Register(ActionReset, func(context.Context, Request) (map[string]any, error) { return nil, nil })
	d.Register(ActionCfgSet, func(context.Context, Request) (map[string]any, error) { return nil, nil })
	d.Register(ActionPing, func(context.Context, Request) (map[string]any, error) { return nil, nil })

	assert.Equal(t, []string{ActionPing, ActionReset, ActionCfgSet}, d.Actions())
}
