// Package xpath evaluates XPath expressions against captured page sources.
//
// The engine depends only on the Parser, Document and Node interfaces; the
// default implementation is backed by antchfx/xmlquery.
package xpath

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	xp "github.com/antchfx/xpath"

	"github.com/devicelab-dev/xpath-healer/pkg/core"
)

// Node is one node returned by a selection.
type Node interface {
	Tag() string
	Attr(name string) (string, bool)
	XML() string
}

// Document is a parsed page source.
type Document interface {
	// Select runs expr and returns the matching nodes in document order.
	// A malformed expression returns an error.
	Select(expr string) ([]Node, error)
}

// Parser turns page source XML into a Document.
type Parser interface {
	Parse(source string) (Document, error)
}

// XMLQueryParser is the default Parser.
type XMLQueryParser struct{}

// NewParser returns the default Parser.
func NewParser() Parser {
	return XMLQueryParser{}
}

// Parse parses source. Input without a root element is rejected.
func (XMLQueryParser) Parse(source string) (Document, error) {
	root, err := xmlquery.Parse(strings.NewReader(source))
	if err != nil {
		return nil, core.ErrMalformedXML.WithCause(err)
	}
	if !hasElement(root) {
		return nil, core.ErrMalformedXML.WithMessage("page source has no root element")
	}
	return &xmlDocument{root: root}, nil
}

func hasElement(root *xmlquery.Node) bool {
	for n := root.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return true
		}
	}
	return false
}

type xmlDocument struct {
	root *xmlquery.Node
}

func (d *xmlDocument) Select(expr string) (nodes []Node, err error) {
	compiled, err := xp.Compile(expr)
	if err != nil {
		return nil, core.ErrInvalidExpression.WithCause(err)
	}

	// xpath panics on some expressions that compile but cannot be
	// iterated as a node-set.
	defer func() {
		if r := recover(); r != nil {
			nodes = nil
			err = core.ErrInvalidExpression.WithCause(fmt.Errorf("%v", r))
		}
	}()

	found := xmlquery.QuerySelectorAll(d.root, compiled)
	nodes = make([]Node, 0, len(found))
	for _, n := range found {
		nodes = append(nodes, xmlNode{n})
	}
	return nodes, nil
}

type xmlNode struct {
	n *xmlquery.Node
}

func (x xmlNode) Tag() string {
	return x.n.Data
}

func (x xmlNode) Attr(name string) (string, bool) {
	for _, a := range x.n.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func (x xmlNode) XML() string {
	return x.n.OutputXML(true)
}
