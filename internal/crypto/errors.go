package crypto

import "fmt"

// TransformError is returned when key material or a packet cannot be used
// by a cipher. It never happens with correctly configured keys and is fatal
// to the connection that hit it.
type TransformError struct {
	Op     string
	Reason string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}
