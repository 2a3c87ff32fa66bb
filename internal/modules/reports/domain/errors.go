package domain

import "fmt"

// DatabaseError reports a failed query or fetch. Op names the step that
// failed ("query", "columns", "scan", "fetch").
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}
