package services

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLDocument exposes an HTML file as one page of text.
type HTMLDocument struct {
	uri   DocumentURI
	title string
	text  string
}

func OpenHTML(uri DocumentURI) (*HTMLDocument, error) {
	f, err := os.Open(uri.Path)
	if err != nil {
		return nil, fmt.Errorf("open html: %w", err)
	}
	defer f.Close()

	root, err := html.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(textOf(findElement(root, atom.Title)))
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(uri.Path), filepath.Ext(uri.Path))
	}

	body := findElement(root, atom.Body)
	if body == nil {
		body = root
	}

	return &HTMLDocument{uri: uri, title: title, text: blockText(body)}, nil
}

func HTMLOpener(ctx context.Context, uri DocumentURI) (Document, error) {
	return OpenHTML(uri)
}

func (d *HTMLDocument) URI() DocumentURI     { return d.uri }
func (d *HTMLDocument) Title() string        { return d.title }
func (d *HTMLDocument) PageCount() int       { return 1 }
func (d *HTMLDocument) CanRenderPages() bool { return false }
func (d *HTMLDocument) Close() error         { return nil }

func (d *HTMLDocument) PageImage(ctx context.Context, page int, zoom float64) (image.Image, error) {
	return nil, ErrRenderUnsupported
}

func (d *HTMLDocument) PageText(ctx context.Context, page int) (string, error) {
	if err := checkPage(d, page); err != nil {
		return "", err
	}
	return d.text, nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Tr: true, atom.Br: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Pre: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
}

// blockText flattens n to text with one line per block element.
func blockText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			words := strings.Fields(n.Data)
			if len(words) == 0 {
				sb.WriteByte(' ')
				return
			}
			if strings.TrimLeftFunc(n.Data, unicode.IsSpace) != n.Data {
				sb.WriteByte(' ')
			}
			sb.WriteString(strings.Join(words, " "))
			if strings.TrimRightFunc(n.Data, unicode.IsSpace) != n.Data {
				sb.WriteByte(' ')
			}
			return
		case html.ElementNode:
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
				return
			}
		}
		block := n.Type == html.ElementNode && blockElements[n.DataAtom]
		if block {
			sb.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			sb.WriteByte('\n')
		}
	}
	walk(n)

	lines := strings.Split(sb.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		if fields := strings.Fields(line); len(fields) > 0 {
			out = append(out, strings.Join(fields, " "))
		}
	}
	return strings.Join(out, "\n")
}
