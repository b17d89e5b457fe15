// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package nfo

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float(v float64) *float64 { return &v }

func TestRenderElementOrder(t *testing.T) {
	data, err := Render(Metadata{
		Title:           "Heat",
		SortTitle:       "Heat",
		Plot:            "  LA crime  ",
		Taglines:        []string{"A Los Angeles crime saga", "Second"},
		CommunityRating: float(8),
		CriticRating:    float(87.5),
		MPAA:            "R",
		Year:            1995,
		Premiered:       "1995-12-15",
		Genres:          []string{"Crime", " "},
		Tags:            []string{"Classic", "Heist"},
		People:          []Person{{Name: "Al Pacino", Type: "Actor", Role: "Vincent Hanna"}, {Name: "Michael Mann", Type: "Director"}},
		Studios:         []string{"Warner Bros."},
		UniqueIDs:       map[string]string{"Tmdb": "949", "Imdb": "tt0113277", "Tvdb": ""},
	})
	require.NoError(t, err)

	expected := "<item>" +
		"<title>Heat</title>" +
		"<sorttitle>Heat</sorttitle>" +
		"<plot>LA crime</plot>" +
		"<tagline>A Los Angeles crime saga</tagline>" +
		"<communityrating>8.0</communityrating>" +
		"<criticrating>87.5</criticrating>" +
		"<mpaa>R</mpaa>" +
		"<year>1995</year>" +
		"<premiered>1995-12-15</premiered>" +
		"<genre>Crime</genre>" +
		"<tag>Classic</tag><tag>Heist</tag>" +
		"<tagline>Second</tagline>" +
		"<people>" +
		"<person><name>Al Pacino</name><type>Actor</type><role>Vincent Hanna</role></person>" +
		"<person><name>Michael Mann</name><type>Director</type></person>" +
		"</people>" +
		"<studio>Warner Bros.</studio>" +
		`<uniqueid type="Imdb">tt0113277</uniqueid>` +
		`<uniqueid type="Tmdb">949</uniqueid>` +
		"</item>"
	assert.Equal(t, expected, string(data))
}

func TestRenderEscapesText(t *testing.T) {
	data, err := Render(Metadata{Title: "Tom & Jerry <3"})
	require.NoError(t, err)
	assert.Equal(t, "<item><title>Tom &amp; Jerry &lt;3</title></item>", string(data))
}

func TestSidecarPath(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"/media/movies/Heat (1995)/Heat.mkv", "/media/movies/Heat (1995)/Heat.nfo"},
		{"/media/show/episode.s01e01.mp4", "/media/show/episode.s01e01.nfo"},
		{"/media/noext", "/media/noext.nfo"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.out, SidecarPath(tt.in))
		})
	}
}

func TestWriterCreatesSidecar(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := NewWriter(fs)

	path, err := w.Write("/media/movies/Heat/Heat.mkv", Metadata{Title: "Heat", Tags: []string{"Classic"}})
	require.NoError(t, err)
	assert.Equal(t, "/media/movies/Heat/Heat.nfo", path)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "<item><title>Heat</title><tag>Classic</tag></item>", string(data))

	_, err = w.Write(" ", Metadata{})
	assert.Error(t, err)
}
