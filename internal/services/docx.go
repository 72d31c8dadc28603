package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"os"
	"path"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// HTMLConverter turns a Word document into an HTML string.
type HTMLConverter interface {
	ConvertToHTML(ctx context.Context, path string) (string, error)
}

// DocxHTMLConverter renders the body of a .docx file as simple HTML:
// paragraphs, headings, bulleted lists, tables, links and images.
type DocxHTMLConverter struct{}

func (DocxHTMLConverter) ConvertToHTML(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read docx: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to read DOCX: %w", err)
	}
	defer doc.Close()

	var root xmlNode
	if err := xml.Unmarshal([]byte(doc.Editable().GetContent()), &root); err != nil {
		return "", fmt.Errorf("parse document.xml: %w", err)
	}
	body := root.child("body")
	if body == nil {
		return "", fmt.Errorf("document.xml has no body")
	}

	w := &docxWriter{rels: readRelationships(data)}
	w.b.WriteString("<html><body>")
	w.blocks(body.Nodes)
	w.b.WriteString("</body></html>")
	return w.b.String(), nil
}

type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content string     `xml:",chardata"`
	Nodes   []xmlNode  `xml:",any"`
}

func (n *xmlNode) child(local string) *xmlNode {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			return &n.Nodes[i]
		}
	}
	return nil
}

func (n *xmlNode) attr(local string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// find returns the first descendant named local.
func (n *xmlNode) find(local string) *xmlNode {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			return &n.Nodes[i]
		}
		if found := n.Nodes[i].find(local); found != nil {
			return found
		}
	}
	return nil
}

type docxWriter struct {
	b      strings.Builder
	rels   map[string]string
	inList bool
}

func (w *docxWriter) blocks(nodes []xmlNode) {
	for i := range nodes {
		n := &nodes[i]
		switch n.XMLName.Local {
		case "p":
			w.paragraph(n)
		case "tbl":
			w.closeList()
			w.table(n)
		case "sdt":
			if content := n.child("sdtContent"); content != nil {
				w.blocks(content.Nodes)
			}
		}
	}
	w.closeList()
}

func (w *docxWriter) closeList() {
	if w.inList {
		w.b.WriteString("</ul>")
		w.inList = false
	}
}

func (w *docxWriter) paragraph(p *xmlNode) {
	tag := "p"
	listItem := false
	if props := p.child("pPr"); props != nil {
		if style := props.child("pStyle"); style != nil {
			tag = headingTag(style.attr("val"))
		}
		listItem = props.child("numPr") != nil
	}

	if listItem {
		if !w.inList {
			w.b.WriteString("<ul>")
			w.inList = true
		}
		tag = "li"
	} else {
		w.closeList()
	}

	w.b.WriteString("<" + tag + ">")
	w.inline(p.Nodes)
	w.b.WriteString("</" + tag + ">")
}

func headingTag(style string) string {
	s := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	if s == "title" {
		return "h1"
	}
	if level, ok := strings.CutPrefix(s, "heading"); ok && len(level) == 1 && level[0] >= '1' && level[0] <= '6' {
		return "h" + level
	}
	return "p"
}

func (w *docxWriter) inline(nodes []xmlNode) {
	for i := range nodes {
		n := &nodes[i]
		switch n.XMLName.Local {
		case "r":
			w.run(n)
		case "hyperlink":
			href := w.rels[n.attr("id")]
			if href == "" && n.attr("anchor") != "" {
				href = "#" + n.attr("anchor")
			}
			if href == "" {
				w.inline(n.Nodes)
				continue
			}
			w.b.WriteString(`<a href="` + html.EscapeString(href) + `">`)
			w.inline(n.Nodes)
			w.b.WriteString("</a>")
		case "ins", "smartTag", "fldSimple", "customXml":
			w.inline(n.Nodes)
		}
	}
}

func (w *docxWriter) run(r *xmlNode) {
	var bold, italic bool
	if props := r.child("rPr"); props != nil {
		bold = toggleOn(props.child("b"))
		italic = toggleOn(props.child("i"))
	}
	if bold {
		w.b.WriteString("<strong>")
	}
	if italic {
		w.b.WriteString("<em>")
	}

	for i := range r.Nodes {
		n := &r.Nodes[i]
		switch n.XMLName.Local {
		case "t":
			w.b.WriteString(html.EscapeString(n.Content))
		case "tab":
			w.b.WriteString("\t")
		case "br", "cr":
			w.b.WriteString("<br/>")
		case "drawing", "pict":
			w.image(n)
		}
	}

	if italic {
		w.b.WriteString("</em>")
	}
	if bold {
		w.b.WriteString("</strong>")
	}
}

func toggleOn(n *xmlNode) bool {
	if n == nil {
		return false
	}
	switch n.attr("val") {
	case "0", "false", "off":
		return false
	}
	return true
}

func (w *docxWriter) image(n *xmlNode) {
	var target string
	if blip := n.find("blip"); blip != nil {
		target = w.rels[blip.attr("embed")]
	} else if data := n.find("imagedata"); data != nil {
		target = w.rels[data.attr("id")]
	}
	if target == "" {
		return
	}
	alt := ""
	if props := n.find("docPr"); props != nil {
		alt = props.attr("descr")
	}
	w.b.WriteString(`<img src="` + html.EscapeString(target) + `" alt="` + html.EscapeString(alt) + `"/>`)
}

func (w *docxWriter) table(t *xmlNode) {
	w.b.WriteString("<table>")
	for i := range t.Nodes {
		row := &t.Nodes[i]
		if row.XMLName.Local != "tr" {
			continue
		}
		w.b.WriteString("<tr>")
		for j := range row.Nodes {
			cell := &row.Nodes[j]
			if cell.XMLName.Local != "tc" {
				continue
			}
			w.b.WriteString("<td>")
			w.blocks(cell.Nodes)
			w.b.WriteString("</td>")
		}
		w.b.WriteString("</tr>")
	}
	w.b.WriteString("</table>")
}

type relationships struct {
	Items []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

// readRelationships maps relationship IDs of word/document.xml to their
// targets. Internal targets are made relative to the package root.
func readRelationships(data []byte) map[string]string {
	rels := make(map[string]string)
	raw, err := readZipEntry(data, "word/_rels/document.xml.rels")
	if err != nil {
		return rels
	}
	var parsed relationships
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return rels
	}
	for _, item := range parsed.Items {
		target := item.Target
		if !strings.Contains(target, "://") && !strings.HasPrefix(target, "mailto:") && !strings.HasPrefix(target, "/") {
			target = path.Join("word", target)
		}
		rels[item.ID] = target
	}
	return rels
}

func readZipEntry(data []byte, name string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx archive: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s: %w", name, os.ErrNotExist)
}

// CoreProperties is the subset of docProps/core.xml the reader uses.
type CoreProperties struct {
	Title   string `xml:"title"`
	Creator string `xml:"creator"`
}

func ReadCoreProperties(path string) (CoreProperties, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CoreProperties{}, err
	}
	raw, err := readZipEntry(data, "docProps/core.xml")
	if err != nil {
		return CoreProperties{}, err
	}
	var props CoreProperties
	if err := xml.Unmarshal(raw, &props); err != nil {
		return CoreProperties{}, fmt.Errorf("parse core properties: %w", err)
	}
	props.Title = strings.TrimSpace(props.Title)
	props.Creator = strings.TrimSpace(props.Creator)
	return props, nil
}
