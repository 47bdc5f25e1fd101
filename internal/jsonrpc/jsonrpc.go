// Package jsonrpc holds the minimal JSON-RPC 2.0 surface the proxy needs:
// the envelope types and error writers. The proxy forwards request bodies
// opaquely, so there is no dispatch layer here.
package jsonrpc

import (
	"encoding/json"
	"net/http"

	"github.com/agentfront/agent-front/internal/log"
)

// Standard JSON-RPC 2.0 error codes
const (
	ParseError     = -32700 // Invalid JSON was received by the server
	InvalidRequest = -32600 // The JSON sent is not a valid Request object
	MethodNotFound = -32601 // The method does not exist / is not available
	InvalidParams  = -32602 // Invalid method parameter(s)
	InternalError  = -32603 // Internal JSON-RPC error
)

// Implementation-defined codes (server range -32000 to -32099)
const (
	// AuthRequired signals the caller has no usable credential: no upstream
	// session, or the session could not be exchanged for an access token.
	AuthRequired = -32001
)

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Request is a JSON-RPC 2.0 request envelope. Params stay raw: the proxy
// never interprets them.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// NewError creates a new JSON-RPC error with the given code and message
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewResponse creates a success response for the given request id
func NewResponse(id any, result any) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}

// WriteError writes a JSON-RPC error envelope with HTTP 200; JSON-RPC
// errors are protocol-level results, not transport failures.
func WriteError(w http.ResponseWriter, id any, code int, message string) {
	WriteErrorWithStatus(w, id, code, message, http.StatusOK)
}

// WriteErrorWithStatus writes a JSON-RPC error envelope with an explicit
// HTTP status, for errors that double as transport failures (401, 504).
func WriteErrorWithStatus(w http.ResponseWriter, id any, code int, message string, status int) {
	resp := Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   NewError(code, message),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.LogError("Failed to encode JSON-RPC error response: %v", err)
	}
}
