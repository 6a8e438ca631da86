package queryengine

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxErrorText bounds the error text taken from a response body.
const maxErrorText = 512

// bodyText turns an error body into one line of text. HTML pages (typically
// from a gateway) are reduced to their title and visible text.
func bodyText(mediaType, charset string, raw []byte) string {
	decoded := decode(charset, raw)

	var text string
	if mediaType == "text/html" || looksLikeHTML(decoded) {
		text = htmlText(decoded)
	}
	if text == "" {
		text = decoded
	}
	return truncate(collapseSpace(text), maxErrorText)
}

// decode converts raw from the declared charset to NFC-normalized UTF-8.
// Unknown charsets are read as UTF-8.
func decode(charset string, raw []byte) string {
	var r io.Reader = bytes.NewReader(raw)
	if charset != "" {
		if enc, err := htmlindex.Get(charset); err == nil {
			r = enc.NewDecoder().Reader(r)
		}
	}
	b, err := io.ReadAll(transform.NewReader(r, norm.NFC))
	if err != nil {
		return string(raw)
	}
	return string(b)
}

func looksLikeHTML(s string) bool {
	head := strings.ToLower(strings.TrimSpace(s))
	if len(head) > 64 {
		head = head[:64]
	}
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

func htmlText(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	body := strings.TrimSpace(doc.Find("body").Text())

	switch {
	case title == "":
		return body
	case body == "":
		return title
	case strings.HasPrefix(collapseSpace(body), collapseSpace(title)):
		return body
	default:
		return title + ": " + body
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
