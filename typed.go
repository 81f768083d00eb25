package workerbridge

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"iter"

	"github.com/wagiedev/workerbridge-go/internal/errors"
)

// Invoke calls action and decodes its result into T.
func Invoke[T any](ctx context.Context, c Client, action string, data any) (T, error) {
	var out T

	raw, err := c.Call(ctx, action, data)
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &errors.JSONDecodeError{RawData: string(raw), Err: err}
	}

	return out, nil
}

// TypedStream decodes the values of a supervised stream into T.
type TypedStream[T any] struct {
	raw *Stream
}

// Subscribe opens a supervised stream whose values decode into T.
func Subscribe[T any](
	ctx context.Context,
	c Client,
	name string,
	args any,
	opts ...StreamOption,
) (*TypedStream[T], error) {
	raw, err := c.OpenStream(ctx, name, args, opts...)
	if err != nil {
		return nil, err
	}

	return &TypedStream[T]{raw: raw}, nil
}

// Raw returns the underlying stream.
func (s *TypedStream[T]) Raw() *Stream {
	return s.raw
}

// Next returns the next decoded value. A value that fails to decode is
// reported as a *JSONDecodeError; the stream stays usable.
func (s *TypedStream[T]) Next(ctx context.Context) (Result[T], error) {
	r, err := s.raw.Next(ctx)
	if err != nil || r.Done {
		return Result[T]{Done: r.Done}, err
	}

	var v T
	if err := json.Unmarshal(r.Value, &v); err != nil {
		return Result[T]{}, &errors.JSONDecodeError{RawData: string(r.Value), Err: err}
	}

	return Result[T]{Value: v}, nil
}

// All yields decoded values until the stream ends or ctx is done. Decode
// failures are yielded as errors. Breaking out of the loop ends the stream.
func (s *TypedStream[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			r, err := s.Next(ctx)
			if err != nil {
				if _, ok := stderrors.AsType[*errors.JSONDecodeError](err); ok {
					if !yield(r.Value, err) {
						s.raw.End()

						return
					}

					continue
				}

				yield(r.Value, err)

				return
			}

			if r.Done {
				return
			}

			if !yield(r.Value, nil) {
				s.raw.End()

				return
			}
		}
	}
}

// State returns the lifecycle state of the stream.
func (s *TypedStream[T]) State() StreamState {
	return s.raw.State()
}

// End closes the stream.
func (s *TypedStream[T]) End() {
	s.raw.End()
}

// EndAndWait closes the stream and waits for the host to acknowledge.
func (s *TypedStream[T]) EndAndWait(ctx context.Context) error {
	return s.raw.EndAndWait(ctx)
}
