package catalog

import (
	"net/url"
	"path"
	"strings"
)

// DefaultExtension is used when an image URL carries no extension.
const DefaultExtension = "jpg"

// SanitizeTitle makes a product title safe to use as a file name.
func SanitizeTitle(title string) string {
	return strings.ReplaceAll(title, "/", "---")
}

// ValidURL reports whether raw parses with an http(s) scheme and a host.
func ValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// ExtractExtension returns the extension of the last path segment of an image
// URL, or DefaultExtension when there is none.
func ExtractExtension(link string) string {
	segment := lastSegment(link)
	idx := strings.LastIndex(segment, ".")
	if idx < 0 || idx == len(segment)-1 {
		return DefaultExtension
	}
	return segment[idx+1:]
}

func lastSegment(link string) string {
	if u, err := url.Parse(link); err == nil && (u.Scheme != "" || u.Path != "") {
		return path.Base(u.Path)
	}
	raw := link
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		raw = raw[i+1:]
	}
	return raw
}
