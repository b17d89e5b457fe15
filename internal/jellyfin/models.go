// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package jellyfin

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// DefaultItemFields are requested on every library listing.
var DefaultItemFields = []string{
	"TagItems",
	"InheritedTags",
	"Name",
	"Path",
	"ProviderIds",
	"Type",
	"Tags",
	"SortName",
	"PremiereDate",
	"ProductionYear",
}

// NameRef is the {Name, Id} pair Jellyfin uses for tag items and studios.
type NameRef struct {
	Name string `json:"Name"`
	ID   string `json:"Id,omitempty"`
}

// Item is a library entry as returned by the Items endpoints.
// Decoding never fails on wrong-typed fields; they are left at their zero value.
type Item struct {
	ID             string
	Name           string
	SortName       string
	Type           string
	Path           string
	PremiereDate   string
	ProductionYear int
	Tags           []string
	TagItems       []NameRef
	InheritedTags  []string
}

func (i *Item) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*i = Item{
		ID:            rawString(raw["Id"]),
		Name:          rawString(raw["Name"]),
		SortName:      rawString(raw["SortName"]),
		Type:          rawString(raw["Type"]),
		Path:          rawString(raw["Path"]),
		PremiereDate:  rawString(raw["PremiereDate"]),
		Tags:          rawStrings(raw["Tags"]),
		TagItems:      rawNameRefs(raw["TagItems"]),
		InheritedTags: rawStrings(raw["InheritedTags"]),
	}
	if year, ok := rawInt(raw["ProductionYear"]); ok {
		i.ProductionYear = year
	}
	return nil
}

// DisplaySortName falls back to Name when the server has no sort name.
func (i Item) DisplaySortName() string {
	if i.SortName != "" {
		return i.SortName
	}
	return i.Name
}

// TagNames merges tag items, direct tags and inherited tags.
// Names are trimmed and de-duplicated case-insensitively, keeping the first casing seen.
func (i Item) TagNames() []string {
	names := make([]string, 0, len(i.TagItems)+len(i.Tags)+len(i.InheritedTags))
	seen := make(map[string]struct{}, cap(names))
	fold := cases.Fold()

	add := func(name string) {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return
		}
		key := fold.String(trimmed)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		names = append(names, trimmed)
	}

	for _, ref := range i.TagItems {
		add(ref.Name)
	}
	for _, name := range i.Tags {
		add(name)
	}
	for _, name := range i.InheritedTags {
		add(name)
	}
	return names
}

// ItemsPage is one page of an Items listing.
type ItemsPage struct {
	Items []Item
	// Received counts every element the server sent, including ones that
	// failed to decode and were left out of Items.
	Received int
	// TotalRecordCount is only meaningful when HasTotal is set.
	TotalRecordCount int
	HasTotal         bool
}

func (p *ItemsPage) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = ItemsPage{}
	elements := rawArray(raw["Items"])
	p.Received = len(elements)
	for _, element := range elements {
		var item Item
		if err := json.Unmarshal(element, &item); err != nil {
			continue
		}
		p.Items = append(p.Items, item)
	}
	if total, ok := rawInt(raw["TotalRecordCount"]); ok && total >= 0 {
		p.TotalRecordCount = total
		p.HasTotal = true
	}
	return nil
}

// Len is the number of records the page advances the cursor by.
func (p *ItemsPage) Len() int {
	if p.Received > len(p.Items) {
		return p.Received
	}
	return len(p.Items)
}

// TagEntry is one row of a tag listing endpoint. Counts are nil when absent or invalid.
type TagEntry struct {
	Name      string
	ItemCount *int
	Count     *int
}

// TagPage is one page of a tag listing endpoint.
type TagPage struct {
	Entries []TagEntry
	// ItemsValid is false when Items is present but not an array.
	ItemsValid bool
	Total      int
	HasTotal   bool
}

func (p *TagPage) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = TagPage{}

	items, ok := raw["Items"]
	switch {
	case !ok || isJSONNull(items):
		// a missing list reads as an empty page
		p.ItemsValid = true
	case bytes.HasPrefix(bytes.TrimSpace(items), []byte("[")):
		p.ItemsValid = true
		for _, element := range rawArray(items) {
			var entry map[string]json.RawMessage
			if err := json.Unmarshal(element, &entry); err != nil {
				p.Entries = append(p.Entries, TagEntry{})
				continue
			}
			p.Entries = append(p.Entries, TagEntry{
				Name:      rawString(entry["Name"]),
				ItemCount: nonNegative(entry["ItemCount"]),
				Count:     nonNegative(entry["Count"]),
			})
		}
	}

	for _, key := range []string{"TotalRecordCount", "TotalCount"} {
		if total, ok := rawInt(raw[key]); ok && total > 0 {
			p.Total = total
			p.HasTotal = true
			break
		}
	}
	return nil
}

// ItemDetails is a single item fetched for editing. Raw keeps every field the
// server sent so updates can round-trip values this type does not model.
type ItemDetails struct {
	Item

	Overview        string
	Genres          []string
	Taglines        []string
	Studios         []NameRef
	People          []Person
	ProviderIDs     map[string]string
	CommunityRating *float64
	CriticRating    *float64
	OfficialRating  string
	EndDate         string

	Raw map[string]json.RawMessage
}

type Person struct {
	Name string
	Type string
	Role string
}

func (d *ItemDetails) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var item Item
	if err := item.UnmarshalJSON(data); err != nil {
		return err
	}

	*d = ItemDetails{
		Item:            item,
		Overview:        rawString(raw["Overview"]),
		Genres:          rawStrings(raw["Genres"]),
		Taglines:        rawStrings(raw["Taglines"]),
		Studios:         rawNameRefs(raw["Studios"]),
		CommunityRating: rawFloat(raw["CommunityRating"]),
		CriticRating:    rawFloat(raw["CriticRating"]),
		OfficialRating:  rawString(raw["OfficialRating"]),
		EndDate:         rawString(raw["EndDate"]),
		Raw:             raw,
	}

	for _, element := range rawArray(raw["People"]) {
		var person map[string]json.RawMessage
		if err := json.Unmarshal(element, &person); err != nil {
			continue
		}
		d.People = append(d.People, Person{
			Name: rawString(person["Name"]),
			Type: rawString(person["Type"]),
			Role: rawString(person["Role"]),
		})
	}

	var providers map[string]json.RawMessage
	if err := json.Unmarshal(raw["ProviderIds"], &providers); err == nil {
		d.ProviderIDs = make(map[string]string, len(providers))
		for key, value := range providers {
			if text := rawString(value); text != "" {
				d.ProviderIDs[key] = text
			}
		}
	}
	return nil
}

func isJSONNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func rawArray(raw json.RawMessage) []json.RawMessage {
	if isJSONNull(raw) {
		return nil
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil
	}
	return elements
}

// rawString accepts strings and numbers; anything else reads as empty.
func rawString(raw json.RawMessage) string {
	if isJSONNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func rawStrings(raw json.RawMessage) []string {
	var out []string
	for _, element := range rawArray(raw) {
		var s string
		if err := json.Unmarshal(element, &s); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// rawNameRefs reads [{Name, Id}] lists; bare strings are accepted as names.
func rawNameRefs(raw json.RawMessage) []NameRef {
	var out []NameRef
	for _, element := range rawArray(raw) {
		if isJSONNull(element) {
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(element, &obj); err == nil {
			out = append(out, NameRef{Name: rawString(obj["Name"]), ID: rawString(obj["Id"])})
			continue
		}
		var s string
		if err := json.Unmarshal(element, &s); err == nil {
			out = append(out, NameRef{Name: s})
		}
	}
	return out
}

// rawInt accepts integral numbers and numeric strings.
func rawInt(raw json.RawMessage) (int, bool) {
	if isJSONNull(raw) {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		n = json.Number(strings.TrimSpace(s))
	}
	if v, err := n.Int64(); err == nil {
		return int(v), true
	}
	if f, err := strconv.ParseFloat(n.String(), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int(f), true
	}
	return 0, false
}

func nonNegative(raw json.RawMessage) *int {
	v, ok := rawInt(raw)
	if !ok {
		return nil
	}
	if v < 0 {
		v = 0
	}
	return &v
}

func rawFloat(raw json.RawMessage) *float64 {
	if isJSONNull(raw) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return &f
}
