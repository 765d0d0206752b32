// Package burrow defines the request/response envelopes for burrow IPC.
// Messages are JSON-encoded and sent over TCP, each preceded by a 4-byte
// big-endian length prefix (see package frame).
package burrow

import (
	"encoding/json"
	"fmt"
)

// Status values carried by a Response.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Request is sent from the client to the daemon.
//
// On the wire it is a flat JSON object: "command" and "args" are reserved,
// every other top-level field is preserved in Extra.
type Request struct {
	// Command is the registered command name. Matching is case-sensitive.
	Command string
	// Args are the positional arguments, in order.
	Args []string
	// Extra holds optional named fields such as an inline "file_content".
	Extra map[string]json.RawMessage
}

// Response is sent from the daemon back to the client.
type Response struct {
	// Status is StatusSuccess or StatusError.
	Status string `json:"status"`
	// Message is the command output or a human-readable error.
	Message string `json:"message"`
}

// OK reports whether the response carries a success status.
func (r *Response) OK() bool {
	return r != nil && r.Status == StatusSuccess
}

// NewResponse builds a response from a command outcome.
func NewResponse(ok bool, message string) *Response {
	status := StatusError
	if ok {
		status = StatusSuccess
	}
	return &Response{Status: status, Message: message}
}

// ErrorResponse builds an error response with a formatted message.
func ErrorResponse(format string, args ...any) *Response {
	return &Response{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

// ExtraString decodes a string-valued extra field.
func (r *Request) ExtraString(key string) (string, bool) {
	raw, ok := r.Extra[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// SetExtra encodes v and stores it as a named extra field.
func (r *Request) SetExtra(key string, v any) error {
	if key == "command" || key == "args" {
		return fmt.Errorf("burrow: %q is a reserved request field", key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if r.Extra == nil {
		r.Extra = make(map[string]json.RawMessage)
	}
	r.Extra[key] = raw
	return nil
}

// MarshalJSON flattens Extra next to command and args.
func (r Request) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(r.Extra)+2)
	for k, v := range r.Extra {
		obj[k] = v
	}
	args := r.Args
	if args == nil {
		args = []string{}
	}
	obj["command"] = r.Command
	obj["args"] = args
	return json.Marshal(obj)
}

// UnmarshalJSON splits a flat request object into Command, Args and Extra.
// Empty args decode to a nil slice.
func (r *Request) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj == nil {
		return fmt.Errorf("burrow: request must be a JSON object")
	}

	*r = Request{}
	if raw, ok := obj["command"]; ok {
		if err := json.Unmarshal(raw, &r.Command); err != nil {
			return fmt.Errorf("burrow: command: %w", err)
		}
		delete(obj, "command")
	}
	if raw, ok := obj["args"]; ok {
		var args []string
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Errorf("burrow: args: %w", err)
		}
		if len(args) > 0 {
			r.Args = args
		}
		delete(obj, "args")
	}
	if len(obj) > 0 {
		r.Extra = obj
	}
	return nil
}
