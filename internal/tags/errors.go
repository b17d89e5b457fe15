// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tags

import (
	"fmt"
)

// PaginationAnomalyError aborts a listing strategy whose pages cannot be trusted.
type PaginationAnomalyError struct {
	Endpoint string
	Page     int
	Reason   string
}

func (e *PaginationAnomalyError) Error() string {
	return fmt.Sprintf("tag pagination via %s stopped at page %d: %s", e.Endpoint, e.Page, e.Reason)
}
