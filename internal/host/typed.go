package host

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/wagiedev/workerbridge-go/internal/errors"
)

// HandleFunc registers a typed handler for action.
//
// The input schema is inferred from In. Action data is validated against it
// before being decoded, and failures are answered with an invalid_input
// error without calling fn. Absent data decodes to the zero In.
func HandleFunc[In, Out any](h *Host, action string, fn func(context.Context, In) (Out, error)) error {
	decode, err := decoder[In](action)
	if err != nil {
		return err
	}

	h.Handle(action, func(ctx context.Context, data json.RawMessage) (any, error) {
		in, err := decode(data)
		if err != nil {
			return nil, err
		}

		return fn(ctx, in)
	})

	return nil
}

// HandleStreamFunc registers a stream whose args are validated against the
// schema inferred from Args. Invalid args fail stream.open with an
// invalid_input error.
func HandleStreamFunc[Args any](
	h *Host,
	name string,
	fn func(context.Context, Args, *Emitter) (Subscription, error),
) error {
	decode, err := decoder[Args](name)
	if err != nil {
		return err
	}

	h.HandleStream(name, func(ctx context.Context, raw json.RawMessage, emit *Emitter) (Subscription, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}

		return fn(ctx, args, emit)
	})

	return nil
}

// decoder validates JSON data against the schema of T and decodes it.
func decoder[T any](name string) (func(json.RawMessage) (T, error), error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("infer input schema for %s: %w", name, err)
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve input schema for %s: %w", name, err)
	}

	return func(data json.RawMessage) (T, error) {
		var out T

		if len(data) == 0 || string(data) == "null" {
			return out, nil
		}

		var instance any
		if err := json.Unmarshal(data, &instance); err != nil {
			return out, invalidInput(name, err)
		}

		if err := resolved.Validate(instance); err != nil {
			return out, invalidInput(name, err)
		}

		if err := json.Unmarshal(data, &out); err != nil {
			return out, invalidInput(name, err)
		}

		return out, nil
	}, nil
}

func invalidInput(action string, err error) error {
	return &errors.ActionError{
		Action:  action,
		Message: fmt.Sprintf("%s: %v", errors.ErrInvalidInput, err),
		Kind:    errors.KindAction,
		Code:    errors.CodeInvalidInput,
	}
}
