// Package selection reads the products a user selected in the Odoo list view.
package selection

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/surge-downloader/odoo-images/internal/engine/types"
)

var (
	// ErrNoSelection is returned when no list row is selected
	ErrNoSelection = errors.New("no products selected")
	// ErrMissingIDColumn is returned when a selected row has no identifier cell,
	// which happens when the ID column is hidden in the list view
	ErrMissingIDColumn = errors.New("ID column is not visible in the list view")
	// ErrInvalidRef is returned by ParseRefs for a token without an ID
	ErrInvalidRef = errors.New("product reference needs an ID")
)

// Classes a list row must carry to count as selected
var selectedRowClasses = []string{"o_data_row", "o_row_draggable", "o_data_row_selected"}

// Columns names the list cells read from each selected row
type Columns struct {
	ID    string
	Label string
}

// DefaultColumns reads the product ID and barcode cells
func DefaultColumns() Columns {
	return Columns{ID: types.DefaultIDColumn, Label: types.DefaultLabelCol}
}

func (c Columns) withDefaults() Columns {
	if c.ID == "" {
		c.ID = types.DefaultIDColumn
	}
	if c.Label == "" {
		c.Label = types.DefaultLabelCol
	}
	return c
}

// Extract parses a list-view document and returns the selected products in
// document order.
func Extract(r io.Reader, cols Columns) ([]types.ProductRef, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return ExtractNode(doc, cols)
}

// ExtractNode is Extract for an already parsed document
func ExtractNode(doc *html.Node, cols Columns) ([]types.ProductRef, error) {
	cols = cols.withDefaults()

	rows := findAll(doc, isSelectedRow)
	if len(rows) == 0 {
		return nil, ErrNoSelection
	}

	refs := make([]types.ProductRef, 0, len(rows))
	for _, row := range rows {
		idCell := findFirst(row, cellNamed(cols.ID))
		if idCell == nil {
			return nil, ErrMissingIDColumn
		}

		id := textOf(idCell)
		if id == "" {
			continue
		}

		ref := types.ProductRef{ID: id}
		if labelCell := findFirst(row, cellNamed(cols.Label)); labelCell != nil {
			ref.Label = textOf(labelCell)
		}
		refs = append(refs, ref)
	}

	if len(refs) == 0 {
		return nil, ErrNoSelection
	}
	return refs, nil
}

// ParseRefs builds refs from "id" or "id:label" tokens
func ParseRefs(args []string) ([]types.ProductRef, error) {
	refs := make([]types.ProductRef, 0, len(args))
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}

		id, label, _ := strings.Cut(arg, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRef, arg)
		}
		refs = append(refs, types.ProductRef{ID: id, Label: strings.TrimSpace(label)})
	}

	if len(refs) == 0 {
		return nil, ErrNoSelection
	}
	return refs, nil
}

func isSelectedRow(n *html.Node) bool {
	if n.Type != html.ElementNode || n.Data != "tr" {
		return false
	}
	classes := strings.Fields(attr(n, "class"))
	for _, want := range selectedRowClasses {
		found := false
		for _, c := range classes {
			if c == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func cellNamed(name string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "td" && attr(n, "name") == name
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

// findAll collects matching descendants in document order.
// Matched nodes are not descended into.
func findAll(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if match(c) {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func findFirst(root *html.Node, match func(*html.Node) bool) *html.Node {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			return c
		}
		if n := findFirst(c, match); n != nil {
			return n
		}
	}
	return nil
}

// blockElements break the text flow the way innerText does
var blockElements = map[string]bool{
	"br": true, "div": true, "p": true, "li": true, "ul": true, "ol": true,
	"tr": true, "td": true, "th": true, "table": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true,
}

// textOf returns the rendered text of n with whitespace collapsed. Inline
// siblings are joined without a separator.
func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
			if blockElements[n.Data] {
				sb.WriteByte(' ')
				defer sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
