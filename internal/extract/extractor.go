// Package extract parses fetched content into structured page metadata.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/metascan/crawler/internal/crawl"
)

// Config bounds per-page enumeration so pathological pages cannot exhaust
// memory; elements beyond a cap are dropped silently and a flag recorded.
type Config struct {
	MaxImages      int
	MaxLinks       int
	MaxTitleLen    int
	MaxDescLen     int
	MaxTextForHash int
}

// Extractor turns raw bodies into PageMetadata.
type Extractor struct {
	cfg    Config
	hasher crawl.Hasher
	logger *zap.Logger
}

// New constructs an Extractor.
func New(cfg Config, hasher crawl.Hasher, logger *zap.Logger) *Extractor {
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 500
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = 500
	}
	if cfg.MaxTitleLen <= 0 {
		cfg.MaxTitleLen = 500
	}
	if cfg.MaxDescLen <= 0 {
		cfg.MaxDescLen = 1000
	}
	if cfg.MaxTextForHash <= 0 {
		cfg.MaxTextForHash = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, hasher: hasher, logger: logger}
}

// Extract parses body according to contentType. Non-HTML content yields a
// minimal record with the word count estimated from the text length; it is
// never an error.
func (e *Extractor) Extract(contentType, baseURL string, body []byte) (*crawl.PageMetadata, error) {
	mediaType := mediaTypeOf(contentType)
	if !strings.Contains(mediaType, "html") {
		return e.extractPlain(mediaType, body)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, crawl.NewTaskError(crawl.ErrExtractMalformed, fmt.Sprintf("parse html: %v", err))
	}

	base, _ := url.Parse(baseURL)

	meta := &crawl.PageMetadata{
		ContentType:   mediaType,
		Title:         clip(e.title(doc), e.cfg.MaxTitleLen),
		Description:   clip(e.description(doc), e.cfg.MaxDescLen),
		Keywords:      e.keywords(doc),
		Author:        e.author(doc),
		PublishedDate: e.publishedDate(doc),
		CanonicalURL:  e.canonical(doc, base),
		Language:      strings.TrimSpace(doc.Find("html").First().AttrOr("lang", "")),
	}
	meta.Images, meta.ImagesTruncated = e.images(doc, base)
	meta.Links, meta.LinksTruncated = e.links(doc, base)

	text := visibleText(doc)
	meta.WordCount = len(strings.Fields(text))
	hashInput := text
	if len(hashInput) > e.cfg.MaxTextForHash {
		hashInput = hashInput[:e.cfg.MaxTextForHash]
	}
	if hash, hashErr := e.hasher.Hash([]byte(strings.Join(strings.Fields(hashInput), " "))); hashErr == nil {
		meta.ContentHash = hash
	} else {
		e.logger.Warn("content hash failed", zap.Error(hashErr))
	}
	return meta, nil
}

func (e *Extractor) extractPlain(mediaType string, body []byte) (*crawl.PageMetadata, error) {
	meta := &crawl.PageMetadata{
		ContentType: mediaType,
		WordCount:   len(bytes.Fields(body)),
	}
	if hash, err := e.hasher.Hash(body); err == nil {
		meta.ContentHash = hash
	}
	return meta, nil
}

func (e *Extractor) title(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return collapse(t)
	}
	if t := metaContent(doc, `meta[property="og:title"]`); t != "" {
		return t
	}
	return collapse(strings.TrimSpace(doc.Find("h1").First().Text()))
}

func (e *Extractor) description(doc *goquery.Document) string {
	for _, sel := range []string{
		`meta[name="description"]`,
		`meta[property="og:description"]`,
		`meta[name="twitter:description"]`,
	} {
		if d := metaContent(doc, sel); d != "" {
			return d
		}
	}
	// Fallback: first paragraph text.
	return collapse(strings.TrimSpace(doc.Find("p").First().Text()))
}

func (e *Extractor) keywords(doc *goquery.Document) []string {
	content := metaContent(doc, `meta[name="keywords"]`)
	if content == "" {
		return nil
	}
	var keywords []string
	for _, part := range strings.FieldsFunc(content, func(r rune) bool { return r == ',' || r == ';' }) {
		if kw := strings.TrimSpace(part); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return keywords
}

func (e *Extractor) author(doc *goquery.Document) string {
	for _, sel := range []string{
		`meta[name="author"]`,
		`meta[property="article:author"]`,
		`meta[name="twitter:creator"]`,
	} {
		if a := metaContent(doc, sel); a != "" {
			return a
		}
	}
	return ""
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	time.RFC1123,
	time.RFC1123Z,
}

func (e *Extractor) publishedDate(doc *goquery.Document) *time.Time {
	candidates := []string{
		metaContent(doc, `meta[property="article:published_time"]`),
		metaContent(doc, `meta[name="date"]`),
		strings.TrimSpace(doc.Find("time[datetime]").First().AttrOr("datetime", "")),
	}
	for _, raw := range candidates {
		if raw == "" {
			continue
		}
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, raw); err == nil {
				return &ts
			}
		}
	}
	return nil
}

func (e *Extractor) canonical(doc *goquery.Document, base *url.URL) string {
	href := strings.TrimSpace(doc.Find(`link[rel="canonical"]`).First().AttrOr("href", ""))
	if href == "" {
		return ""
	}
	return resolve(base, href)
}

func (e *Extractor) images(doc *goquery.Document, base *url.URL) ([]crawl.ImageMeta, bool) {
	var images []crawl.ImageMeta
	truncated := false
	doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(images) >= e.cfg.MaxImages {
			truncated = true
			return false
		}
		src := resolve(base, strings.TrimSpace(s.AttrOr("src", "")))
		if src == "" {
			return true
		}
		images = append(images, crawl.ImageMeta{
			URL:     src,
			AltText: strings.TrimSpace(s.AttrOr("alt", "")),
			Width:   atoiOr(s.AttrOr("width", "")),
			Height:  atoiOr(s.AttrOr("height", "")),
		})
		return true
	})
	return images, truncated
}

func (e *Extractor) links(doc *goquery.Document, base *url.URL) ([]crawl.LinkMeta, bool) {
	var links []crawl.LinkMeta
	truncated := false
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(links) >= e.cfg.MaxLinks {
			truncated = true
			return false
		}
		href := resolve(base, strings.TrimSpace(s.AttrOr("href", "")))
		if href == "" {
			return true
		}
		links = append(links, crawl.LinkMeta{
			URL:        href,
			AnchorText: collapse(strings.TrimSpace(s.Text())),
			Title:      strings.TrimSpace(s.AttrOr("title", "")),
		})
		return true
	})
	return links, truncated
}

// visibleText returns the page text with script/style/head content removed.
func visibleText(doc *goquery.Document) string {
	clone := doc.Clone()
	clone.Find("script, style, noscript, head").Remove()
	return collapse(clone.Find("body").Text())
}

func metaContent(doc *goquery.Document, selector string) string {
	return collapse(strings.TrimSpace(doc.Find(selector).First().AttrOr("content", "")))
}

// resolve makes href absolute against base, dropping non-http(s) schemes.
func resolve(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	return u.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back up to a rune boundary so the cut never leaves a partial rune.
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func atoiOr(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func mediaTypeOf(contentType string) string {
	mt := strings.TrimSpace(strings.ToLower(contentType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "" {
		mt = "application/octet-stream"
	}
	return mt
}
