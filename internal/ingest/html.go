package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skippedElements never contribute narration.
var skippedElements = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Form:     true,
	atom.Button:   true,
}

// blockElements end the current paragraph before and after their content.
var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true, atom.Main: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Li: true, atom.Ul: true, atom.Ol: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.Blockquote: true, atom.Pre: true, atom.Figcaption: true, atom.Figure: true,
	atom.Table: true, atom.Tr: true, atom.Td: true, atom.Th: true, atom.Caption: true,
	atom.Hr: true, atom.Body: true,
}

// emphasisElements become `*` delimited spans.
var emphasisElements = map[atom.Atom]bool{
	atom.Strong: true,
	atom.B:      true,
	atom.Em:     true,
	atom.I:      true,
}

// extractHTML returns the narratable paragraphs of an HTML document. Content
// inside <main> or, failing that, <article> is preferred over the whole body.
func extractHTML(body []byte) ([]string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	root := findFirst(doc, atom.Main)
	if root == nil {
		root = findFirst(doc, atom.Article)
	}

	if root == nil {
		root = doc
	}

	extractor := &htmlExtractor{}
	extractor.walk(root)
	extractor.flush()

	return extractor.paragraphs, nil
}

func findFirst(node *html.Node, target atom.Atom) *html.Node {
	if node.Type == html.ElementNode && node.DataAtom == target {
		return node
	}

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if skippedElements[child.DataAtom] {
			continue
		}

		if found := findFirst(child, target); found != nil {
			return found
		}
	}

	return nil
}

type htmlExtractor struct {
	paragraphs []string
	current    strings.Builder
	// emphasisDepth counts open emphasis elements; only the outermost writes
	// delimiters so nested tags cannot unbalance them.
	emphasisDepth int
}

func (e *htmlExtractor) walk(node *html.Node) {
	switch node.Type {
	case html.TextNode:
		// Literal asterisks would be read as emphasis delimiters.
		e.current.WriteString(strings.ReplaceAll(node.Data, "*", " "))

		return
	case html.ElementNode:
		e.walkElement(node)

		return
	case html.DocumentNode:
		e.walkChildren(node)
	case html.ErrorNode, html.CommentNode, html.DoctypeNode, html.RawNode:
	}
}

func (e *htmlExtractor) walkElement(node *html.Node) {
	switch {
	case skippedElements[node.DataAtom]:
		return
	case node.DataAtom == atom.Br:
		e.current.WriteByte(' ')
	case blockElements[node.DataAtom]:
		e.flush()
		e.walkChildren(node)
		e.flush()
	case emphasisElements[node.DataAtom]:
		e.walkEmphasis(node)
	default:
		e.walkChildren(node)
	}
}

func (e *htmlExtractor) walkEmphasis(node *html.Node) {
	if e.emphasisDepth > 0 {
		e.emphasisDepth++
		e.walkChildren(node)
		e.emphasisDepth--

		return
	}

	before := e.current.String()

	e.emphasisDepth++
	e.walkChildren(node)
	e.emphasisDepth--

	inner := strings.TrimPrefix(e.current.String(), before)
	if strings.TrimSpace(inner) == "" {
		return
	}

	trimmed := strings.TrimSpace(inner)
	leading := inner[:strings.Index(inner, trimmed)]
	trailing := inner[len(leading)+len(trimmed):]

	e.current.Reset()
	e.current.WriteString(before)
	e.current.WriteString(leading)
	e.current.WriteString("*" + trimmed + "*")
	e.current.WriteString(trailing)
}

func (e *htmlExtractor) walkChildren(node *html.Node) {
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		e.walk(child)
	}
}

// flush closes the current paragraph. A block nested in an emphasis element
// splits the span, so flushing is suppressed until the emphasis closes.
func (e *htmlExtractor) flush() {
	if e.emphasisDepth > 0 {
		e.current.WriteByte(' ')

		return
	}

	paragraph := strings.Join(strings.Fields(e.current.String()), " ")
	e.current.Reset()

	if paragraph != "" {
		e.paragraphs = append(e.paragraphs, paragraph)
	}
}
