package ingest

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
)

// XMLSpec describes where product data lives in an XML feed.
type XMLSpec struct {
	// ProductNode is the element name repeated once per product.
	ProductNode string `mapstructure:"product_node"`
	TitleField  string `mapstructure:"title_field"`
	SKUField    string `mapstructure:"sku_field"`
	URLField    string `mapstructure:"url_field"`
	// ImagesPath is an XPath, relative to the product node, selecting the
	// image URL elements. Only used for link feeds.
	ImagesPath string `mapstructure:"images_path"`
}

// DefaultXMLSpec matches the common supplier product feed layout.
var DefaultXMLSpec = XMLSpec{
	ProductNode: "Product",
	TitleField:  "title",
	SKUField:    "sku",
	URLField:    "url",
	ImagesPath:  "images/image",
}

// ReadXML reads product records from an XML feed.
func ReadXML(r io.Reader, spec XMLSpec) ([]catalog.ProductRecord, error) {
	spec = spec.withDefaults()
	products, err := productNodes(r, spec)
	if err != nil {
		return nil, err
	}
	records := make([]catalog.ProductRecord, 0, len(products))
	for _, node := range products {
		record := catalog.ProductRecord{
			Title: childText(node, spec.TitleField),
			SKU:   childText(node, spec.SKUField),
			URL:   childText(node, spec.URLField),
		}
		if record.SKU == "" {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// ReadXMLLinks reads manifest entries from a feed that lists image URLs per
// product, bypassing page resolution entirely.
func ReadXMLLinks(r io.Reader, spec XMLSpec) ([]catalog.ManifestEntry, error) {
	spec = spec.withDefaults()
	products, err := productNodes(r, spec)
	if err != nil {
		return nil, err
	}
	var entries []catalog.ManifestEntry
	for _, node := range products {
		sku := childText(node, spec.SKUField)
		if sku == "" {
			continue
		}
		images, err := xmlquery.QueryAll(node, spec.ImagesPath)
		if err != nil {
			return nil, fmt.Errorf("query images %q: %w", spec.ImagesPath, err)
		}
		i := 0
		for _, image := range images {
			link := strings.TrimSpace(image.InnerText())
			if link == "" {
				continue
			}
			entries = append(entries, catalog.NewManifestEntry(sku, i, link))
			i++
		}
	}
	return entries, nil
}

func productNodes(r io.Reader, spec XMLSpec) ([]*xmlquery.Node, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse xml: %w", err)
	}
	products, err := xmlquery.QueryAll(doc, "//"+spec.ProductNode)
	if err != nil {
		return nil, fmt.Errorf("query product node %q: %w", spec.ProductNode, err)
	}
	if len(products) == 0 {
		return nil, errors.New("xml feed contains no " + spec.ProductNode + " elements")
	}
	return products, nil
}

func childText(node *xmlquery.Node, name string) string {
	if name == "" {
		return ""
	}
	child := node.SelectElement(name)
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.InnerText())
}

func (s XMLSpec) withDefaults() XMLSpec {
	if s.ProductNode == "" {
		s.ProductNode = DefaultXMLSpec.ProductNode
	}
	if s.TitleField == "" {
		s.TitleField = DefaultXMLSpec.TitleField
	}
	if s.SKUField == "" {
		s.SKUField = DefaultXMLSpec.SKUField
	}
	if s.URLField == "" {
		s.URLField = DefaultXMLSpec.URLField
	}
	if s.ImagesPath == "" {
		s.ImagesPath = DefaultXMLSpec.ImagesPath
	}
	return s
}
