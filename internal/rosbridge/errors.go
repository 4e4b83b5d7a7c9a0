package rosbridge

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrClosed               = errors.New("connection closed")
	ErrNotJSONCompatible    = errors.New("argument is not a JSON compatible object")
	ErrUnsupportedTransport = errors.New("transport is not implemented")
)

// ServiceError ответ service_response с result=false.
type ServiceError struct {
	Service string
	Values  json.RawMessage
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service %s failed: %s", e.Service, string(e.Values))
}
