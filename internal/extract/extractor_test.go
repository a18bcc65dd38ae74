package extract

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/metascan/crawler/internal/hash/sha256"
)

const samplePage = `<!DOCTYPE html>
<html lang="en">
<head>
<title>Example  Article</title>
<meta name="description" content="A short description of the page.">
<meta name="keywords" content="go, crawling; metadata">
<meta name="author" content="Jane Writer">
<meta property="article:published_time" content="2024-03-05T10:30:00Z">
<link rel="canonical" href="/articles/example">
<script>var ignored = "script text";</script>
<style>.ignored { color: red; }</style>
</head>
<body>
<h1>Example Article</h1>
<p>This is the body text with exactly ten words in it.</p>
<img src="/img/hero.png" alt="Hero" width="640" height="480">
<img src="relative.jpg">
<a href="/next" title="Next page">Read more</a>
<a href="mailto:someone@example.com">mail</a>
</body>
</html>`

func newExtractor(cfg Config) *Extractor {
	return New(cfg, sha256.New(), zap.NewNop())
}

func TestExtract_HTMLFields(t *testing.T) {
	t.Parallel()

	e := newExtractor(Config{})
	meta, err := e.Extract("text/html; charset=utf-8", "https://example.com/articles/example?x=1", []byte(samplePage))
	require.NoError(t, err)

	require.Equal(t, "Example Article", meta.Title)
	require.Equal(t, "A short description of the page.", meta.Description)
	require.Equal(t, []string{"go", "crawling", "metadata"}, meta.Keywords)
	require.Equal(t, "Jane Writer", meta.Author)
	require.NotNil(t, meta.PublishedDate)
	require.Equal(t, time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC), meta.PublishedDate.UTC())
	require.Equal(t, "https://example.com/articles/example", meta.CanonicalURL)
	require.Equal(t, "en", meta.Language)
	require.Equal(t, "text/html", meta.ContentType)
	require.NotEmpty(t, meta.ContentHash)

	require.Len(t, meta.Images, 2)
	require.Equal(t, "https://example.com/img/hero.png", meta.Images[0].URL)
	require.Equal(t, "Hero", meta.Images[0].AltText)
	require.Equal(t, 640, meta.Images[0].Width)
	require.Equal(t, 480, meta.Images[0].Height)
	require.Equal(t, "https://example.com/articles/relative.jpg", meta.Images[1].URL)

	// mailto link is dropped.
	require.Len(t, meta.Links, 1)
	require.Equal(t, "https://example.com/next", meta.Links[0].URL)
	require.Equal(t, "Read more", meta.Links[0].AnchorText)
	require.Equal(t, "Next page", meta.Links[0].Title)
}

func TestExtract_WordCountSkipsScriptAndStyle(t *testing.T) {
	t.Parallel()

	e := newExtractor(Config{})
	meta, err := e.Extract("text/html", "https://example.com/", []byte(samplePage))
	require.NoError(t, err)
	// Body words only: h1 (2), paragraph (11), anchor texts (3); script
	// and style content excluded.
	require.Equal(t, 16, meta.WordCount)
}

func TestExtract_CapsImagesAndLinks(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	sb.WriteString("<html><body>")
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&sb, `<img src="/i/%d.png"><a href="/l/%d">link %d</a>`, i, i, i)
	}
	sb.WriteString("</body></html>")

	e := newExtractor(Config{MaxImages: 5, MaxLinks: 7})
	meta, err := e.Extract("text/html", "https://example.com/", []byte(sb.String()))
	require.NoError(t, err)
	require.Len(t, meta.Images, 5)
	require.True(t, meta.ImagesTruncated)
	require.Len(t, meta.Links, 7)
	require.True(t, meta.LinksTruncated)
}

func TestExtract_ClipKeepsRuneBoundaries(t *testing.T) {
	t.Parallel()

	e := newExtractor(Config{MaxTitleLen: 5})
	page := []byte(`<html><head><title>abcdéf</title></head><body></body></html>`)
	meta, err := e.Extract("text/html", "https://example.com/", page)
	require.NoError(t, err)
	// The byte cap lands inside the two-byte é; the cut backs up to "abcd".
	require.Equal(t, "abcd", meta.Title)
	require.True(t, utf8.ValidString(meta.Title))
}

func TestExtract_NonHTMLIsMinimalNotError(t *testing.T) {
	t.Parallel()

	e := newExtractor(Config{})
	meta, err := e.Extract("text/plain", "https://example.com/notes.txt", []byte("three plain words"))
	require.NoError(t, err)
	require.Equal(t, "text/plain", meta.ContentType)
	require.Equal(t, 3, meta.WordCount)
	require.Empty(t, meta.Title)
	require.Empty(t, meta.Links)
	require.NotEmpty(t, meta.ContentHash)
}

func TestExtract_DescriptionFallsBackToFirstParagraph(t *testing.T) {
	t.Parallel()

	page := `<html><body><p>First paragraph wins.</p><p>Second.</p></body></html>`
	e := newExtractor(Config{})
	meta, err := e.Extract("text/html", "https://example.com/", []byte(page))
	require.NoError(t, err)
	require.Equal(t, "First paragraph wins.", meta.Description)
}

func TestExtract_ContentHashStableAcrossWhitespace(t *testing.T) {
	t.Parallel()

	e := newExtractor(Config{})
	a, err := e.Extract("text/html", "https://example.com/", []byte("<html><body><p>same   words</p></body></html>"))
	require.NoError(t, err)
	b, err := e.Extract("text/html", "https://example.com/", []byte("<html><body><p>same words</p></body></html>"))
	require.NoError(t, err)
	require.Equal(t, a.ContentHash, b.ContentHash)
}
