// Package product holds the tracked product model and the CSV product source.
package product

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrInvalidURL = errors.New("invalid product url")

// Product is a tracked store product. It is immutable once created.
//
// URL is the identity; Name is a display label only.
type Product struct {
	Name   string
	URL    string
	domain string
	key    string
}

// New validates rawURL and derives the domain and dedup key.
func New(name, rawURL string) (Product, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return Product{}, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Product{}, fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Product{}, fmt.Errorf("%w: %q: want absolute http(s) url", ErrInvalidURL, raw)
	}
	return Product{
		Name:   strings.TrimSpace(name),
		URL:    raw,
		domain: strings.ToLower(u.Host),
		key:    Key(raw),
	}, nil
}

// Domain is the host portion of the URL, e.g. "well.ca".
func (p Product) Domain() string { return p.domain }

// Key is the dedup store identity of the product.
func (p Product) Key() string { return p.key }

// Label returns Name, falling back to URL when the name is blank.
func (p Product) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.URL
}

// Key returns the hex SHA-256 digest of a product URL.
func Key(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}
