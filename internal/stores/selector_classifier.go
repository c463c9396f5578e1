package stores

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// SelectorRule configures a SelectorClassifier.
type SelectorRule struct {
	Domain     string
	InStock    string
	OutOfStock string
}

// SelectorClassifier is driven by CSS selectors from the config file.
// A page is in stock when InStock matches and OutOfStock (if set) does not.
type SelectorClassifier struct {
	domain     string
	inStock    query
	outOfStock query
}

func NewSelectorClassifier(rule SelectorRule) (*SelectorClassifier, error) {
	domain := normalizeDomain(rule.Domain)
	if domain == "" {
		return nil, fmt.Errorf("selector classifier: domain required")
	}
	in, err := parseQuery(rule.InStock)
	if err != nil {
		return nil, fmt.Errorf("selector classifier %s: in_stock: %w", domain, err)
	}
	c := &SelectorClassifier{domain: domain, inStock: in}
	if strings.TrimSpace(rule.OutOfStock) != "" {
		out, err := parseQuery(rule.OutOfStock)
		if err != nil {
			return nil, fmt.Errorf("selector classifier %s: out_of_stock: %w", domain, err)
		}
		c.outOfStock = out
	}
	return c, nil
}

func (c *SelectorClassifier) Domain() string { return c.domain }

func (c *SelectorClassifier) InStock(doc *html.Node) bool {
	if c.outOfStock != nil && c.outOfStock.match(doc) {
		return false
	}
	return c.inStock.match(doc)
}
