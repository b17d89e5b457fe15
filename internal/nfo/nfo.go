// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package nfo renders Kodi style .nfo sidecar files next to media files.
package nfo

import (
	"bytes"
	"encoding/xml"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

type Person struct {
	Name string
	Type string
	Role string
}

// Metadata is the item state written to a sidecar.
type Metadata struct {
	Title           string
	SortTitle       string
	Plot            string
	Taglines        []string
	CommunityRating *float64
	CriticRating    *float64
	MPAA            string
	Year            int
	Premiered       string
	Ended           string
	Genres          []string
	Tags            []string
	People          []Person
	Studios         []string
	UniqueIDs       map[string]string
}

// Render encodes m as an <item> document. Empty values are omitted.
func Render(m Metadata) ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)

	w := &elementWriter{enc: enc}
	root := xml.StartElement{Name: xml.Name{Local: "item"}}
	w.start(root)

	w.text("title", m.Title)
	w.text("sorttitle", m.SortTitle)
	w.text("plot", m.Plot)
	if len(m.Taglines) > 0 {
		w.text("tagline", m.Taglines[0])
	}
	w.text("communityrating", formatRating(m.CommunityRating))
	w.text("criticrating", formatRating(m.CriticRating))
	w.text("mpaa", m.MPAA)
	if m.Year != 0 {
		w.text("year", strconv.Itoa(m.Year))
	}
	w.text("premiered", m.Premiered)
	w.text("ended", m.Ended)

	for _, genre := range m.Genres {
		w.text("genre", genre)
	}
	for _, tag := range m.Tags {
		w.text("tag", tag)
	}
	if len(m.Taglines) > 1 {
		for _, tagline := range m.Taglines[1:] {
			w.text("tagline", tagline)
		}
	}

	if len(m.People) > 0 {
		people := xml.StartElement{Name: xml.Name{Local: "people"}}
		w.start(people)
		for _, p := range m.People {
			person := xml.StartElement{Name: xml.Name{Local: "person"}}
			w.start(person)
			w.raw("name", p.Name)
			w.raw("type", p.Type)
			w.raw("role", p.Role)
			w.end(person)
		}
		w.end(people)
	}

	for _, studio := range m.Studios {
		w.text("studio", studio)
	}

	providers := make([]string, 0, len(m.UniqueIDs))
	for provider := range m.UniqueIDs {
		providers = append(providers, provider)
	}
	sort.Strings(providers)
	for _, provider := range providers {
		value := m.UniqueIDs[provider]
		if value == "" {
			continue
		}
		w.element(xml.StartElement{
			Name: xml.Name{Local: "uniqueid"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "type"}, Value: provider}},
		}, value)
	}

	w.end(root)
	if w.err == nil {
		w.err = enc.Flush()
	}
	if w.err != nil {
		return nil, errors.Wrap(w.err, "could not encode nfo")
	}
	return buf.Bytes(), nil
}

type elementWriter struct {
	enc *xml.Encoder
	err error
}

func (w *elementWriter) start(el xml.StartElement) {
	if w.err == nil {
		w.err = w.enc.EncodeToken(el)
	}
}

func (w *elementWriter) end(el xml.StartElement) {
	if w.err == nil {
		w.err = w.enc.EncodeToken(el.End())
	}
}

func (w *elementWriter) element(el xml.StartElement, value string) {
	if w.err == nil {
		w.err = w.enc.EncodeElement(value, el)
	}
}

// text writes a trimmed element, skipping blanks.
func (w *elementWriter) text(name, value string) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return
	}
	w.element(xml.StartElement{Name: xml.Name{Local: name}}, trimmed)
}

// raw writes a non-empty value untrimmed.
func (w *elementWriter) raw(name, value string) {
	if value == "" {
		return
	}
	w.element(xml.StartElement{Name: xml.Name{Local: name}}, value)
}

func formatRating(v *float64) string {
	if v == nil {
		return ""
	}
	s := strconv.FormatFloat(*v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") && !strings.Contains(s, "Inf") && !strings.Contains(s, "NaN") {
		s += ".0"
	}
	return s
}

// SidecarPath replaces the media file extension with .nfo.
func SidecarPath(mediaPath string) string {
	ext := filepath.Ext(mediaPath)
	return strings.TrimSuffix(mediaPath, ext) + ".nfo"
}

// Writer stores sidecars on a filesystem.
type Writer struct {
	fs afero.Fs
}

func NewWriter(fs afero.Fs) *Writer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Writer{fs: fs}
}

// Write renders m next to mediaPath and returns the sidecar path.
func (w *Writer) Write(mediaPath string, m Metadata) (string, error) {
	if strings.TrimSpace(mediaPath) == "" {
		return "", errors.New("media path is empty")
	}

	data, err := Render(m)
	if err != nil {
		return "", err
	}

	target := SidecarPath(mediaPath)
	if err := w.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", errors.Wrapf(err, "could not create directory for %s", target)
	}
	if err := afero.WriteFile(w.fs, target, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "could not write %s", target)
	}
	return target, nil
}
