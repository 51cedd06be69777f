// Package mcp implements the Model Context Protocol server for Biblio.
package mcp

import (
	"context"
	"errors"
	"fmt"

	berrors "github.com/biblio-mcp/biblio/internal/errors"
)

// Custom MCP error codes for Biblio.
const (
	// ErrCodeStoreDown indicates the vector store is unreachable.
	ErrCodeStoreDown = -32001

	// ErrCodeEmbeddingFailed indicates query embedding failed.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeBookNotFound indicates no registered book matched.
	ErrCodeBookNotFound = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// NewMethodNotFoundError creates an error for unknown methods/tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var be *berrors.BiblioError
	if errors.As(err, &be) {
		return mapBiblioError(be)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out.",
		}
	case errors.Is(err, context.Canceled):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request was canceled.",
		}
	default:
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: "Internal server error.",
		}
	}
}

// mapBiblioError converts a BiblioError to an MCPError. The suggestion,
// when present, rides along in the message so the client can surface it.
func mapBiblioError(be *berrors.BiblioError) *MCPError {
	message := be.Message
	if be.Suggestion != "" {
		message = fmt.Sprintf("%s %s", be.Message, be.Suggestion)
	}

	switch be.Code {
	case berrors.ErrCodeQueryEmpty, berrors.ErrCodeInvalidInput:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case berrors.ErrCodeStoreUnavailable:
		return &MCPError{Code: ErrCodeStoreDown, Message: message}
	case berrors.ErrCodeProviderTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	case berrors.ErrCodeEmbeddingFailed,
		berrors.ErrCodeProviderUnavailable,
		berrors.ErrCodeProviderAuth,
		berrors.ErrCodeProviderRateLimited:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
	case berrors.ErrCodeBookNotFound:
		return &MCPError{Code: ErrCodeBookNotFound, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
