// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import (
	"github.com/pkg/errors"
)

var (
	ErrJobNotFound = errors.New("prefetch job not found")
	ErrClosed      = errors.New("catalog service is closed")
)

// ValidationError is returned before any remote call when a query is incomplete.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
