// Package tools defines the MCP tool names and request/response schemas
// of the codebridge session memory service.
package tools

import (
	"errors"
	"strings"
	"unicode"
)

const (
	// ToolAppendFrame is the name of the append_frame MCP tool
	ToolAppendFrame = "append_frame"

	// ToolSearchFrames is the name of the search_frames MCP tool
	ToolSearchFrames = "search_frames"

	// ToolGetSessionFrames is the name of the get_session_frames MCP tool
	ToolGetSessionFrames = "get_session_frames"

	// StatusSuccess and StatusError are the values of a response's Status.
	StatusSuccess = "success"
	StatusError   = "error"
)

// Request validation errors.
var (
	ErrMissingSessionID = errors.New("session_id is required")
	ErrMissingContent   = errors.New("content is required")
	ErrMissingQuery     = errors.New("query is required")
	ErrNoSearchTerms    = errors.New("query must contain a letter or digit")
)

// AppendFrameRequest defines the input schema for append_frame tool
type AppendFrameRequest struct {
	// SessionID groups the frame with the rest of its conversation
	SessionID string `json:"session_id"`

	// Content is the message text to record
	Content string `json:"content"`
}

// Validate reports the first missing field.
func (r AppendFrameRequest) Validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return ErrMissingSessionID
	}
	if r.Content == "" {
		return ErrMissingContent
	}
	return nil
}

// AppendFrameResponse defines the output schema for append_frame tool
type AppendFrameResponse struct {
	// Status indicates the result of the operation ("success" or "error")
	Status string `json:"status"`

	// Error contains an error message if Status is "error"
	Error string `json:"error,omitempty"`

	// Code is the error category if Status is "error"
	Code string `json:"code,omitempty"`
}

// SearchFramesRequest defines the input schema for search_frames tool
type SearchFramesRequest struct {
	// Query is free text; name:value terms filter on frame tags
	Query string `json:"query"`
}

// Validate reports a blank query or one made only of punctuation.
func (r SearchFramesRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return ErrMissingQuery
	}
	if strings.IndexFunc(r.Query, func(c rune) bool { return unicode.IsLetter(c) || unicode.IsDigit(c) }) < 0 {
		return ErrNoSearchTerms
	}
	return nil
}

// GetSessionFramesRequest defines the input schema for get_session_frames tool
type GetSessionFramesRequest struct {
	// SessionID is the session whose frames are returned
	SessionID string `json:"session_id"`
}

// Validate reports a missing session id.
func (r GetSessionFramesRequest) Validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return ErrMissingSessionID
	}
	return nil
}

// FramesResponse is the output schema of search_frames and
// get_session_frames.
type FramesResponse struct {
	// Status indicates the result of the operation ("success" or "error")
	Status string `json:"status"`

	// Results contains the text of the matching frames
	Results []string `json:"results"`

	// Error contains an error message if Status is "error"
	Error string `json:"error,omitempty"`

	// Code is the error category if Status is "error"
	Code string `json:"code,omitempty"`
}
