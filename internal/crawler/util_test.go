package crawler

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestSanitizeTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain", raw: "Attention Is All You Need", want: "Attention Is All You Need"},
		{name: "reserved characters", raw: `a/b\c:d*e?f"g<h>i|j`, want: "a_b_c_d_e_f_g_h_i_j"},
		{name: "collapses whitespace", raw: "  Deep \n\t Learning  ", want: "Deep Learning"},
		{name: "empty", raw: "", want: UnknownTitle},
		{name: "whitespace only", raw: " \n ", want: UnknownTitle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, SanitizeTitle(tt.raw))
		})
	}
}

func TestBoundExcerpt(t *testing.T) {
	t.Parallel()

	require.Equal(t, ExcerptNotFound, BoundExcerpt(""))
	require.Equal(t, ExcerptNotFound, BoundExcerpt("   \n\t"))
	require.Equal(t, "hello", BoundExcerpt("  hello \n"))

	long := strings.Repeat("é", MaxExcerptRunes+250)
	got := BoundExcerpt(long)
	require.Equal(t, MaxExcerptRunes, utf8.RuneCountInString(got))
	require.True(t, utf8.ValidString(got))

	// Trimming happens after truncation, so trailing whitespace inside the window disappears.
	padded := strings.Repeat("x", MaxExcerptRunes-2) + "  tail"
	require.Equal(t, strings.Repeat("x", MaxExcerptRunes-2), BoundExcerpt(padded))
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	got, err := ResolveURL("https://papers.nips.cc/paper_files/paper/2021", "/paper_files/paper/2021/hash/abc-Abstract.html#top")
	require.NoError(t, err)
	require.Equal(t, "https://papers.nips.cc/paper_files/paper/2021/hash/abc-Abstract.html", got)

	got, err = ResolveURL("HTTPS://Example.org:443/a/", "b.pdf")
	require.NoError(t, err)
	require.Equal(t, "https://example.org/a/b.pdf", got)

	_, err = ResolveURL("://bad", "x")
	require.Error(t, err)
}

func TestLastPathSegment(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2021", LastPathSegment("https://papers.nips.cc/paper_files/paper/2021"))
	require.Equal(t, "2021", LastPathSegment("https://papers.nips.cc/paper_files/paper/2021/"))
	require.Equal(t, "", LastPathSegment("https://papers.nips.cc"))
}
