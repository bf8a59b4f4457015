package content

import (
	"bytes"
	"errors"
	"html"
	"html/template"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

const (
	MaxNameLength    = 32
	MaxMessageLength = 4000
)

var (
	policy     = bluemonday.UGCPolicy()
	namePolicy = bluemonday.StrictPolicy()
	markdown   = goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
		goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
	)
	ErrEmptyName   = errors.New("name cannot be empty")
	ErrLongName    = errors.New("name is too long")
	ErrNameControl = errors.New("name contains control characters")
	ErrLongMessage = errors.New("message is too long")
)

// Sanitize removes unsafe HTML from the input string using a UGC policy.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Escape escapes special characters like "<" to become "&lt;".
// It matches the behavior of html/template and is safe for use in HTML attributes.
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// NormalizeName validates an alias or display name and strips any markup from it.
// The result is plain text and must be escaped by whoever renders it.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(html.UnescapeString(namePolicy.Sanitize(name)))
	if name == "" {
		return "", ErrEmptyName
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", ErrLongName
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", ErrNameControl
		}
	}
	return name, nil
}

// PrepareMessage trims the message body and renders its markdown to safe HTML.
// The returned text is stored as-is; the HTML is what browsers display.
func PrepareMessage(text string) (string, string, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return "", "", ErrLongMessage
	}
	if text == "" {
		return "", "", nil
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return text, Escape(text), nil
	}
	return text, Sanitize(buf.String()), nil
}
