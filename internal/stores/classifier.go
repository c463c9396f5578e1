// Package stores maps store domains to stock classifiers.
//
// A Classifier only decides "in stock" from a parsed page. Domain checks and
// HTML parsing live in Classify so every classifier gets the same policy.
// Adding a store means registering a Classifier; the checker never changes.
package stores

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"restock/internal/fetch"
)

// Classifier is a per-store stock strategy bound to one domain.
type Classifier interface {
	Domain() string
	InStock(doc *html.Node) bool
}

// Classify enforces the domain match and delegates to c.
//
// Pages that fail to parse classify as not in stock: a false negative is
// corrected on the next run, a false positive is not.
func Classify(c Classifier, page fetch.Page) (bool, error) {
	if want := normalizeDomain(c.Domain()); want != normalizeDomain(page.Domain) {
		return false, fmt.Errorf("%w: classifier for %q got page from %q", ErrUnexpectedDomain, want, page.Domain)
	}
	doc, err := html.Parse(bytes.NewReader(page.Body))
	if err != nil || doc == nil {
		return false, nil
	}
	return c.InStock(doc), nil
}

func normalizeDomain(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}
