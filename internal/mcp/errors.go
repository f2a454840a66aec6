// Package mcp implements the Model Context Protocol (MCP) server for recyclix.
package mcp

import (
	"context"
	"errors"
	"fmt"

	ierrors "github.com/Aman-CERP/recyclix/internal/errors"
)

// Custom MCP error codes for recyclix.
const (
	// ErrCodeIndexUnavailable indicates the index is closed, locked or corrupt.
	ErrCodeIndexUnavailable = -32001

	// ErrCodeWriteRejected indicates a batch could not be committed or the
	// writer could not be recycled.
	ErrCodeWriteRejected = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeQueryFailed indicates the engine failed to execute a query.
	ErrCodeQueryFailed = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinel errors for internal use.
var (
	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidParams indicates invalid parameters were provided.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrNoJournal indicates telemetry was requested but no journal is attached.
	ErrNoJournal = errors.New("telemetry journal not configured")
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

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var indexErr *ierrors.IndexError
	if errors.As(err, &indexErr) {
		return mapIndexError(indexErr)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Tool not found."}
	case errors.Is(err, ErrInvalidParams):
		return &MCPError{Code: ErrCodeInvalidParams, Message: "Invalid parameters."}
	case errors.Is(err, ErrNoJournal):
		return &MCPError{Code: ErrCodeInvalidRequest, Message: "Telemetry is disabled for this server."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

// mapIndexError converts an IndexError to an MCPError by category.
func mapIndexError(ie *ierrors.IndexError) *MCPError {
	message := ie.Message
	if ie.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ie.Message, ie.Suggestion)
	}

	switch ie.Category {
	case ierrors.CategoryWrite:
		if ie.Code == ierrors.ErrCodeWriteFailed {
			return &MCPError{Code: ErrCodeWriteRejected, Message: message}
		}
		// Invalid input, encode failures and oversized batches are the caller's to fix.
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case ierrors.CategoryCommit, ierrors.CategoryRecycle:
		return &MCPError{Code: ErrCodeWriteRejected, Message: message}
	case ierrors.CategoryQuery:
		return &MCPError{Code: ErrCodeQueryFailed, Message: message}
	case ierrors.CategoryIO, ierrors.CategoryEngine:
		return &MCPError{Code: ErrCodeIndexUnavailable, Message: message}
	case ierrors.CategoryConfig:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	default:
		if ie.Code == ierrors.ErrCodeClosed {
			return &MCPError{Code: ErrCodeIndexUnavailable, Message: message}
		}
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
