// Package errors defines error types for the worker bridge.
//
// This package provides structured error types for the failure modes of the
// bridge: transport faults, errors raised by actions on the worker host, and
// host-side stream subscription failures. All error types support error
// unwrapping and can be checked using errors.Is, errors.As, and errors.AsType.
package errors
