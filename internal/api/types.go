package api

import (
	"fmt"
	"net/http"
)

type MoveContactRequest struct {
	ColumnID string `json:"columnId"`
}

// Error is a non-2xx response from the REST API.
type Error struct {
	Status  int    `json:"-"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}
