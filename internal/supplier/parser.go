package supplier

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
)

// Rule selects elements with a CSS selector and reads one attribute from each.
type Rule struct {
	Selector string `mapstructure:"selector"`
	Attr     string `mapstructure:"attr"`
}

// SelectorParser implements catalog.LinkParser with ordered rules. The first
// rule yielding at least one link wins, so later rules act as fallbacks for
// pages with an alternate layout.
type SelectorParser struct {
	rules []Rule
}

// NewSelectorParser validates rules. An empty Attr defaults to "href".
func NewSelectorParser(rules []Rule) (*SelectorParser, error) {
	if len(rules) == 0 {
		return nil, errors.New("at least one parser rule is required")
	}
	out := make([]Rule, 0, len(rules))
	for i, rule := range rules {
		rule.Selector = strings.TrimSpace(rule.Selector)
		if rule.Selector == "" {
			return nil, fmt.Errorf("parser rule %d: selector is required", i)
		}
		if rule.Attr == "" {
			rule.Attr = "href"
		}
		out = append(out, rule)
	}
	return &SelectorParser{rules: out}, nil
}

// ParseLinks extracts image links. Relative links are resolved against the
// page URL; empty attribute values are dropped.
func (p *SelectorParser) ParseLinks(page catalog.Page) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, _ := url.Parse(page.URL)

	for _, rule := range p.rules {
		var links []string
		doc.Find(rule.Selector).Each(func(_ int, s *goquery.Selection) {
			value, ok := s.Attr(rule.Attr)
			value = strings.TrimSpace(value)
			if !ok || value == "" {
				return
			}
			links = append(links, absolute(base, value))
		})
		if len(links) > 0 {
			return links, nil
		}
	}
	return nil, nil
}

func absolute(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
