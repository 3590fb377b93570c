// Package server provides the MCP server implementation for the codebridge
// session memory service.
package server

// SessionToolServer defines the interface for the MCP server that handles
// session frame tool calls from MCP clients.
type SessionToolServer interface {
	// Initialize registers the tools.
	Initialize() error

	// Start serves tool calls over stdio until the client disconnects.
	Start() error

	// Stop gracefully shuts down the MCP server.
	Stop() error
}

var _ SessionToolServer = (*MCPSessionToolServer)(nil)
