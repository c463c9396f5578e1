package product

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesDomainAndKey(t *testing.T) {
	p, err := New("Vitamin D", "https://Well.ca/products/vitamin-d.html")
	require.NoError(t, err)
	assert.Equal(t, "well.ca", p.Domain())
	assert.Len(t, p.Key(), 64)
	assert.Equal(t, Key("https://Well.ca/products/vitamin-d.html"), p.Key())

	other, err := New("Renamed", "https://Well.ca/products/vitamin-d.html")
	require.NoError(t, err)
	assert.Equal(t, p.Key(), other.Key(), "name must not affect identity")
}

func TestNewKeepsPortInDomain(t *testing.T) {
	p, err := New("x", "http://127.0.0.1:8080/item")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", p.Domain())
}

func TestNewRejectsBadURLs(t *testing.T) {
	for _, raw := range []string{"", "   ", "not a url", "/relative/path", "ftp://well.ca/x", "https://"} {
		_, err := New("x", raw)
		assert.ErrorIs(t, err, ErrInvalidURL, raw)
	}
}

func TestLoad(t *testing.T) {
	in := "product_name,url\n" +
		"Vitamin D,https://well.ca/products/vitamin-d.html\n" +
		"\"Fish Oil, 200ct\",https://well.ca/products/fish-oil.html\n"
	got, err := Load(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Fish Oil, 200ct", got[1].Name)
	assert.Equal(t, "well.ca", got[1].Domain())
}

func TestLoadHeaderOnly(t *testing.T) {
	got, err := Load(strings.NewReader("product_name,url\n"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadMalformed(t *testing.T) {
	tests := map[string]string{
		"empty":        "",
		"bad header":   "name,link\nx,https://well.ca/x\n",
		"extra column": "product_name,url\nx,https://well.ca/x,extra\n",
		"bad url":      "product_name,url\nx,https://well.ca/ok\ny,::nope\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(in))
			assert.ErrorIs(t, err, ErrMalformedRow)
		})
	}
}
