package harnessports

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError blocks the whole session until the listed problems are fixed.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + strings.Join(e.Problems, "; ")
}

// ProviderError is returned when the chat model call fails or yields nothing usable.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return "provider error: " + e.Message
	}
	return fmt.Sprintf("provider error (status %d): %s", e.Status, e.Message)
}

// TransportError wraps a network level failure talking to either remote, timeouts included.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RpcError carries the error member of a JSON-RPC response.
type RpcError struct {
	Code    int
	Message string
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NotFoundError reports a tool name outside the known catalog.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// ValidationError lists every violation found in one set of tool arguments.
type ValidationError struct {
	ToolName string
	Errors   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.ToolName, strings.Join(e.Errors, "; "))
}

// MalformedPayloadError means the model emitted a tool call we could not use.
type MalformedPayloadError struct {
	Reason string
	Raw    string
}

func (e *MalformedPayloadError) Error() string {
	return "malformed tool payload: " + e.Reason
}

// Kind names the taxonomy bucket of err, or "internal" when it has none.
func Kind(err error) string {
	var (
		cfgErr       *ConfigurationError
		providerErr  *ProviderError
		transportErr *TransportError
		rpcErr       *RpcError
		notFoundErr  *NotFoundError
		validErr     *ValidationError
		malformedErr *MalformedPayloadError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &validErr):
		return "validation"
	case errors.As(err, &notFoundErr):
		return "not_found"
	case errors.As(err, &malformedErr):
		return "malformed_payload"
	case errors.As(err, &rpcErr):
		return "rpc"
	case errors.As(err, &providerErr):
		return "provider"
	case errors.As(err, &transportErr):
		return "transport"
	default:
		return "internal"
	}
}

// Summarize renders err as the text shown on an errored message.
func Summarize(err error) string {
	var (
		providerErr  *ProviderError
		transportErr *TransportError
		rpcErr       *RpcError
		notFoundErr  *NotFoundError
		validErr     *ValidationError
		malformedErr *MalformedPayloadError
		cfgErr       *ConfigurationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return "The assistant is not configured: " + strings.Join(cfgErr.Problems, "; ")
	case errors.As(err, &validErr):
		return fmt.Sprintf("The request for %s had invalid arguments: %s", validErr.ToolName, strings.Join(validErr.Errors, "; "))
	case errors.As(err, &notFoundErr):
		return fmt.Sprintf("The model asked for an unknown tool %q.", notFoundErr.Name)
	case errors.As(err, &malformedErr):
		return "The model produced a tool call that could not be read: " + malformedErr.Reason
	case errors.As(err, &rpcErr):
		return fmt.Sprintf("The tool host reported an error (%d): %s", rpcErr.Code, rpcErr.Message)
	case errors.As(err, &providerErr):
		if providerErr.Status != 0 {
			return fmt.Sprintf("The language model request failed (%d): %s", providerErr.Status, providerErr.Message)
		}
		return "The language model request failed: " + providerErr.Message
	case errors.As(err, &transportErr):
		return fmt.Sprintf("Could not reach the service during %s: %v", transportErr.Op, transportErr.Err)
	default:
		return "Something went wrong: " + err.Error()
	}
}
