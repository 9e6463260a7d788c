package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/jdziat/recipe-enricher/pkg/core"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Handler holds metadata about a registered queue processor.
type Handler struct {
	Fn         reflect.Value
	ArgsType   reflect.Type
	HasContext bool
	Timeout    time.Duration
}

// NewHandler creates a Handler from a function with one of the signatures
//
//	func(ctx context.Context, payload T) error
//	func(payload T) error
//	func(ctx context.Context) error
func NewHandler(fn any) (*Handler, error) {
	if fn == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	fnVal := reflect.ValueOf(fn)
	if fnVal.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler must be a function")
	}
	if fnVal.IsNil() {
		return nil, fmt.Errorf("handler function cannot be nil")
	}

	fnType := fnVal.Type()
	h := &Handler{Fn: fnVal}

	numIn := fnType.NumIn()
	if numIn < 1 || numIn > 2 {
		return nil, fmt.Errorf("handler must have 1-2 arguments")
	}

	argIdx := 0
	if fnType.In(0).Implements(contextType) {
		h.HasContext = true
		argIdx = 1
	} else if numIn == 2 {
		return nil, fmt.Errorf("handler with two arguments must take context.Context first")
	}
	if argIdx < numIn {
		h.ArgsType = fnType.In(argIdx)
	}

	if fnType.NumOut() != 1 || !fnType.Out(0).Implements(errorType) {
		return nil, fmt.Errorf("handler must return error")
	}

	return h, nil
}

// Execute decodes the payload and runs the handler. A payload that does not
// decode is reported as NoRetry, since retrying cannot fix it.
func (h *Handler) Execute(ctx context.Context, payload []byte) error {
	if !h.Fn.IsValid() || h.Fn.IsNil() {
		return fmt.Errorf("handler function is nil or invalid")
	}

	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	var args []reflect.Value
	if h.HasContext {
		args = append(args, reflect.ValueOf(ctx))
	}

	if h.ArgsType != nil {
		argVal := reflect.New(h.ArgsType)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, argVal.Interface()); err != nil {
				return core.NoRetry(fmt.Errorf("failed to decode payload: %w", err))
			}
		}
		args = append(args, argVal.Elem())
	}

	results := h.Fn.Call(args)
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}
