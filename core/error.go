package core

import "fmt"

// QueryError describes a failed query. Line and Column are set for syntax errors.
type QueryError struct {
	Message   string `json:"message"`
	SQLState  string `json:"sql_state,omitempty"`
	ErrorCode *int   `json:"error_code,omitempty"`
	Line      *int   `json:"line,omitempty"`
	Column    *int   `json:"column,omitempty"`
}

func (e *QueryError) Error() string {
	if e.Line != nil && e.Column != nil {
		return fmt.Sprintf("%s (line %d, column %d)", e.Message, *e.Line, *e.Column)
	}
	return e.Message
}

// WithMessage returns a copy of the error carrying a different message.
func (e *QueryError) WithMessage(message string) *QueryError {
	copied := *e
	copied.Message = message
	return &copied
}
