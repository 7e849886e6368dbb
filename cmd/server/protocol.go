// Package main provides a TCP query server for CommitQuery.
package main

import (
	"encoding/json"

	"github.com/nickyhof/CommitQuery/core"
)

// Operations a request can ask for. An empty op is a query.
const (
	OpQuery         = "query"
	OpMetadata      = "metadata"
	OpCreateProject = "create_project"
	OpCreateView    = "create_view"
	OpDropProject   = "drop_project"
	OpDropView      = "drop_view"
)

// Request is one line sent by the client. A line that is not JSON is a query
// for the connection's current project.
type Request struct {
	Op      string `json:"op,omitempty"`
	Project string `json:"project,omitempty"`
	Query   string `json:"query,omitempty"`
	// Limit is the row ceiling; 0 uses the server default.
	Limit int64  `json:"limit,omitempty"`
	Name  string `json:"name,omitempty"`
	// UpdateInterval is a Go duration such as "15m".
	UpdateInterval string `json:"update_interval,omitempty"`
}

// Response represents the server's response to a request.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Type    string          `json:"type,omitempty"` // "query", "metadata", "commit", "auth" or "use"
	Result  json.RawMessage `json:"result,omitempty"`
}

// QueryResponse contains tabular query results.
type QueryResponse struct {
	QueryID    string           `json:"query_id"`
	Columns    []core.Column    `json:"columns,omitempty"`
	Rows       [][]any          `json:"rows,omitempty"`
	Properties map[string]any   `json:"properties,omitempty"`
	Stats      *core.QueryStats `json:"stats,omitempty"`
	Error      *core.QueryError `json:"error,omitempty"`
	TimeMs     float64          `json:"time_ms"`
}

// MetadataResponse lists the columns a query would return.
type MetadataResponse struct {
	Columns []core.Column `json:"columns"`
}

// CommitResponse reports a metadata change.
type CommitResponse struct {
	Project     string  `json:"project"`
	View        string  `json:"view,omitempty"`
	Transaction string  `json:"transaction"` // metadata commit id
	TimeMs      float64 `json:"time_ms"`
}

// AuthResponse reports a successful authentication.
type AuthResponse struct {
	Authenticated bool   `json:"authenticated"`
	Identity      string `json:"identity"`
	Project       string `json:"project,omitempty"`
	ExpiresIn     int    `json:"expires_in,omitempty"`
}

// EncodeResponse serializes a Response to JSON with a newline.
func EncodeResponse(resp Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeRequest parses a JSON request from a byte slice.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	err := json.Unmarshal(data, &req)
	return req, err
}

func successResponse(responseType string, result any) Response {
	data, err := json.Marshal(result)
	if err != nil {
		return errorResponse(responseType, err)
	}
	return Response{Success: true, Type: responseType, Result: data}
}

func errorResponse(responseType string, err error) Response {
	return Response{Success: false, Type: responseType, Error: err.Error()}
}
