package stores

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// selector is one compound part of a CSS selector:
// tag, #id, .class, [attr] and [attr=val] in any combination.
type selector struct {
	tag     string
	id      string
	classes []string
	attrKey string
	attrVal string
	hasVal  bool
}

// query is a descendant chain, e.g. "div.buy button#add".
type query []selector

// parseQuery parses the supported selector subset. Anything else is rejected
// at config load time rather than silently never matching.
func parseQuery(raw string) (query, error) {
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty selector")
	}
	q := make(query, 0, len(parts))
	for _, p := range parts {
		s, err := parseSelector(p)
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", raw, err)
		}
		q = append(q, s)
	}
	return q, nil
}

func parseSelector(part string) (selector, error) {
	var s selector
	if strings.ContainsAny(part, ">+~:,*") {
		return s, fmt.Errorf("unsupported syntax in %q", part)
	}

	if i := strings.IndexByte(part, '['); i >= 0 {
		if !strings.HasSuffix(part, "]") {
			return s, fmt.Errorf("unterminated attribute in %q", part)
		}
		attr := part[i+1 : len(part)-1]
		part = part[:i]
		if k, v, ok := strings.Cut(attr, "="); ok {
			s.attrKey = strings.TrimSpace(k)
			s.attrVal = strings.Trim(strings.TrimSpace(v), `"'`)
			s.hasVal = true
		} else {
			s.attrKey = strings.TrimSpace(attr)
		}
		if s.attrKey == "" {
			return s, fmt.Errorf("empty attribute name")
		}
	}

	// Split "tag#id.a.b" into its pieces.
	for part != "" {
		i := strings.IndexAny(part[1:], "#.")
		var tok string
		if i < 0 {
			tok, part = part, ""
		} else {
			tok, part = part[:i+1], part[i+1:]
		}
		switch tok[0] {
		case '#':
			if len(tok) == 1 {
				return s, fmt.Errorf("empty id")
			}
			s.id = tok[1:]
		case '.':
			if len(tok) == 1 {
				return s, fmt.Errorf("empty class")
			}
			s.classes = append(s.classes, tok[1:])
		default:
			s.tag = strings.ToLower(tok)
		}
	}
	return s, nil
}

func (s selector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && attr(n, "id") != s.id {
		return false
	}
	if len(s.classes) > 0 {
		have := strings.Fields(attr(n, "class"))
		for _, want := range s.classes {
			if !contains(have, want) {
				return false
			}
		}
	}
	if s.attrKey != "" {
		v, ok := lookupAttr(n, s.attrKey)
		if !ok || (s.hasVal && v != s.attrVal) {
			return false
		}
	}
	return true
}

// match reports whether any node under root satisfies the whole chain.
func (q query) match(root *html.Node) bool {
	if len(q) == 0 {
		return false
	}
	scopes := []*html.Node{root}
	for _, s := range q {
		var next []*html.Node
		for _, scope := range scopes {
			next = append(next, findAll(scope, s)...)
		}
		if len(next) == 0 {
			return false
		}
		scopes = next
	}
	return true
}

func findFirst(root *html.Node, s selector) *html.Node {
	if s.matches(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := findFirst(c, s); n != nil {
			return n
		}
	}
	return nil
}

// findAll returns matching descendants of root (root itself excluded).
func findAll(root *html.Node, s selector) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if s.matches(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
