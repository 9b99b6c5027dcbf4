package command

import (
	"context"
	"sync"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
)

// Dispatcher routes actions to handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
	stamp    func() string
}

// NewDispatcher returns a dispatcher that timestamps results with stamp.
func NewDispatcher(stamp func() string) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
		stamp:    stamp,
	}
}

// Register binds h to action, replacing any previous handler.
func (d *Dispatcher) Register(action string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.handlers[action]; !ok {
		d.order = append(d.order, action)
	}
	d.handlers[action] = h
}

// Actions lists registered actions in registration order.
func (d *Dispatcher) Actions() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, len(d.order))
	copy(out, d.order)

	return out
}

// Dispatch parses payload and runs the handler for action. It never
// panics and always returns a Result.
func (d *Dispatcher) Dispatch(ctx context.Context, action string, payload []byte) Result {
	errFactory := errors.New()

	req, err := Parse(action, payload)

	var applied map[string]any
	if err == nil {
		d.mu.RLock()
		h, ok := d.handlers[action]
		d.mu.RUnlock()

		if ok {
			applied, err = invoke(ctx, h, req)
		} else {
			err = errFactory.WithMessage(errors.ErrUnknownAction, "unknown action: "+action)
		}
	}

	res := Result{
		Action:    action,
		RequestID: req.RequestID,
		OK:        err == nil,
		TS:        d.stamp(),
	}
	if err != nil {
		msg := err.Error()
		res.Error = &msg
		logger.Warn().
			Str("action", action).
			Str("request_id", req.RequestID).
			Str("code", string(errors.CodeOf(err))).
			Msg(msg)
	} else {
		res.Applied = applied
		logger.Debug().
			Str("action", action).
			Str("request_id", req.RequestID).
			Msg("Command handled")
	}

	return res
}

func invoke(ctx context.Context, h Handler, req Request) (applied map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			applied = nil
			err = errors.New().WithData(errors.ErrInternal, r)
		}
	}()

	return h(ctx, req)
}
