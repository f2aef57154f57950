// Package htmlclean turns newsletter HTML into flat text for entity extraction.
package htmlclean

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/yungbote/newsgraph/internal/domain/newsletter"
)

// Elements whose subtree never contributes text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Head:     true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Template: true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Hr: true, atom.Li: true,
	atom.Tr: true, atom.Td: true, atom.Th: true, atom.Table: true, atom.Blockquote: true,
	atom.Pre: true, atom.Section: true, atom.Article: true, atom.H1: true, atom.H2: true,
	atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

// Clean renders the visible text of doc on one line. Link text is followed by
// its target in parentheses; images are dropped. An input with no visible text
// returns ErrEmptyContent.
func Clean(doc string) (string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	render(&b, root)
	out := strings.Join(strings.Fields(b.String()), " ")
	if out == "" {
		return "", newsletter.ErrEmptyContent
	}
	return out, nil
}

func render(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		if skipped[n.DataAtom] || n.DataAtom == atom.Img {
			return
		}
		if n.DataAtom == atom.A {
			text := strings.Join(strings.Fields(textOf(n)), " ")
			href := strings.TrimSpace(attr(n, "href"))
			b.WriteByte(' ')
			switch {
			case text != "" && href != "" && !strings.HasPrefix(href, "#"):
				b.WriteString(text + " (" + href + ")")
			case text != "":
				b.WriteString(text)
			}
			b.WriteByte(' ')
			return
		}
	}
	if n.Type == html.ElementNode && blocks[n.DataAtom] {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		render(b, c)
	}
	if n.Type == html.ElementNode && blocks[n.DataAtom] {
		b.WriteByte('\n')
	}
}

type Link struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type Sections struct {
	Title      string   `json:"title"`
	Headers    []string `json:"headers"`
	Paragraphs []string `json:"paragraphs"`
	Links      []Link   `json:"links"`
}

// ExtractSections collects the title (falling back to the first h1), headers,
// non-empty paragraphs and every anchor with an href, in document order.
func ExtractSections(doc string) (Sections, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return Sections{}, err
	}
	s := Sections{Headers: []string{}, Paragraphs: []string{}, Links: []Link{}}
	var title, firstH1 string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style:
				return
			case atom.Title:
				if title == "" {
					title = strings.TrimSpace(textOf(n))
				}
			case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				h := strings.TrimSpace(textOf(n))
				if n.DataAtom == atom.H1 && firstH1 == "" {
					firstH1 = h
				}
				s.Headers = append(s.Headers, h)
			case atom.P:
				if p := strings.TrimSpace(textOf(n)); p != "" {
					s.Paragraphs = append(s.Paragraphs, p)
				}
			case atom.A:
				if href, ok := attrOK(n, "href"); ok {
					s.Links = append(s.Links, Link{Text: strings.TrimSpace(textOf(n)), URL: href})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	s.Title = title
	if s.Title == "" {
		s.Title = firstH1
	}
	return s, nil
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		if n.Type == html.ElementNode && skipped[n.DataAtom] && n.DataAtom != atom.Head {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return v
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
