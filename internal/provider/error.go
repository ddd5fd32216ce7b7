package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CodeNameExists is the structured error code backends return when an upload
// name is already taken.
const CodeNameExists = "name_exists"

// Error is a non-2xx response from a generation backend. Body carries the
// raw response so operators can see the backend's detail; Code is filled when
// the body is a structured error document.
type Error struct {
	Status int
	Code   string
	Body   string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider: status %d (%s): %s", e.Status, e.Code, e.Body)
	}
	return fmt.Sprintf("provider: status %d: %s", e.Status, e.Body)
}

func newError(status int, raw []byte) *Error {
	e := &Error{Status: status, Body: strings.TrimSpace(string(raw))}
	var detail struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil {
		e.Code = detail.Code
	}
	return e
}

// IsNameCollision reports whether the error is the backend rejecting an
// upload because the requested name is taken. The structured code is
// preferred; matching the "already exists" substring is a compatibility shim
// for backends that only return a plain-text body.
func IsNameCollision(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	if pe.Code == CodeNameExists {
		return true
	}
	return strings.Contains(pe.Body, "already exists")
}
