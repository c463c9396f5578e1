package stores

import "golang.org/x/net/html"

// Builtins returns the compiled-in classifiers.
func Builtins() []Classifier {
	return []Classifier{WellCa{}}
}

// WellCa: the add-to-cart button only renders when the item can be bought.
type WellCa struct{}

func (WellCa) Domain() string { return "well.ca" }

func (WellCa) InStock(doc *html.Node) bool {
	return findFirst(doc, selector{id: "add_to_cart_button"}) != nil
}
