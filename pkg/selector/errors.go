package selector

import "fmt"

// OracleError is returned when the change query itself failed (as opposed to finding no change).
type OracleError struct {
	Path       string
	Status     int
	Diagnostic string
}

var _ error = (*OracleError)(nil)

func (e *OracleError) Error() string {
	return fmt.Sprintf("change query for %s failed with status %d: %s", e.Path, e.Status, e.Diagnostic)
}
