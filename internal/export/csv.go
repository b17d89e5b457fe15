// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package export

import (
	"encoding/csv"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/autobrr/jellytag/internal/jellyfin"
)

const (
	Filename    = "tags_export.csv"
	ContentType = "text/csv"

	// FetchSize is the page size used when collecting an export.
	FetchSize = 500
)

var header = []string{"id", "type", "name", "path", "tags"}

// WriteCSV writes one row per item in the given order.
func WriteCSV(w io.Writer, items []jellyfin.Item) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "could not write csv header")
	}
	for _, item := range items {
		if err := cw.Write(row(item)); err != nil {
			return errors.Wrapf(err, "could not write csv row for %s", item.ID)
		}
	}

	cw.Flush()
	return errors.Wrap(cw.Error(), "could not flush csv")
}

func row(item jellyfin.Item) []string {
	tags := item.TagNames()
	sort.SliceStable(tags, func(i, j int) bool {
		return strings.ToLower(tags[i]) < strings.ToLower(tags[j])
	})
	return []string{item.ID, item.Type, item.Name, item.Path, strings.Join(tags, ";")}
}
