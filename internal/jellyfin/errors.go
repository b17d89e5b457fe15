// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jellyfin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// RemoteError is returned for every failed call to the Jellyfin server.
// StatusCode is 0 when no HTTP response was received.
type RemoteError struct {
	StatusCode int
	Method     string
	URL        string
	Details    string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		msg := "HTTP request failed"
		if e.URL != "" {
			msg = fmt.Sprintf("%s %s failed", e.Method, e.URL)
		}
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	}

	msg := fmt.Sprintf("HTTP %d", e.StatusCode)
	if reason := http.StatusText(e.StatusCode); reason != "" {
		msg += " " + reason
	}
	if e.URL != "" {
		msg += " for url: " + e.URL
	}
	if e.Details != "" {
		msg += " - " + e.Details
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Err }

func (e *RemoteError) Is(target error) bool {
	_, ok := target.(*RemoteError)
	return ok
}

// MethodUnsupported reports whether the server rejected the verb itself.
func (e *RemoteError) MethodUnsupported() bool {
	return e.StatusCode == http.StatusMethodNotAllowed || e.StatusCode == http.StatusNotImplemented
}

// IsNotFound reports whether the server answered 404.
func (e *RemoteError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// extractErrorDetails pulls diagnostic text out of a Jellyfin error body.
// Anything that is not a JSON object yields an empty string.
func extractErrorDetails(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return ""
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return ""
	}

	var details []string
	seen := make(map[string]struct{})
	add := func(value any, prefix string) {
		text := strings.TrimSpace(stringify(value))
		if text == "" {
			return
		}
		detail := prefix + text
		if _, ok := seen[detail]; ok {
			return
		}
		seen[detail] = struct{}{}
		details = append(details, detail)
	}

	add(firstTruthy(payload, "Message", "message"), "")
	if code := firstTruthy(payload, "ErrorCode", "errorCode"); code != nil {
		add(code, "ErrorCode=")
	}

	switch status := firstTruthy(payload, "ResponseStatus", "responseStatus").(type) {
	case nil:
	case map[string]any:
		add(firstTruthy(status, "Message", "message"), "")
		if code := firstTruthy(status, "ErrorCode", "errorCode"); code != nil {
			add(code, "ResponseStatus.ErrorCode=")
		}
	default:
		add(status, "ResponseStatus=")
	}

	return strings.Join(details, "; ")
}

// firstTruthy returns the first value among keys that is not null, false, zero or empty.
func firstTruthy(m map[string]any, keys ...string) any {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || !truthy(v) {
			continue
		}
		return v
	}
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}
	return true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool, map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}
