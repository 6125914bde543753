package render

import (
	"errors"
	"fmt"
	"html"
	"io"
	"strings"

	xhtml "golang.org/x/net/html"
)

// LayoutError describes a layout document that cannot be compiled
type LayoutError struct {
	Msg string
}

func (e *LayoutError) Error() string {
	return "layout: " + e.Msg
}

const (
	defaultBodyWidth  = 600
	defaultFontFamily = "Ubuntu, Helvetica, Arial, sans-serif"
)

var (
	layoutTags = map[string]bool{
		"mjml": true, "mj-head": true, "mj-title": true, "mj-preview": true,
		"mj-attributes": true, "mj-body": true, "mj-section": true, "mj-column": true,
		"mj-text": true, "mj-button": true, "mj-image": true, "mj-divider": true,
		"mj-spacer": true, "mj-raw": true,
	}
	// elements whose inner markup is passed through untouched
	contentTags = map[string]bool{
		"mj-text": true, "mj-button": true, "mj-raw": true, "mj-title": true, "mj-preview": true,
	}
	voidTags = map[string]bool{
		"mj-image": true, "mj-divider": true, "mj-spacer": true,
	}
)

type layoutNode struct {
	tag      string
	attrs    map[string]string
	children []*layoutNode
	content  string
}

func (n *layoutNode) attr(key, def string) string {
	if v, ok := n.attrs[key]; ok && v != "" {
		return v
	}
	return def
}

func (n *layoutNode) child(tag string) *layoutNode {
	for _, c := range n.children {
		if c.tag == tag {
			return c
		}
	}
	return nil
}

// IsLayout reports whether body is a layout document rather than plain HTML
func IsLayout(body string) bool {
	return strings.Contains(strings.ToLower(body), "<mjml")
}

// CompileLayout compiles the supported MJML subset into table based HTML
func CompileLayout(src string) (string, error) {
	root, err := parseLayout(src)
	if err != nil {
		return "", err
	}

	var doc *layoutNode
	for _, c := range root.children {
		if c.tag != "mjml" {
			return "", &LayoutError{Msg: fmt.Sprintf("<%s> must be inside <mjml>", c.tag)}
		}
		if doc != nil {
			return "", &LayoutError{Msg: "multiple <mjml> roots"}
		}
		doc = c
	}
	if doc == nil {
		return "", &LayoutError{Msg: "missing <mjml> root"}
	}
	body := doc.child("mj-body")
	if body == nil {
		return "", &LayoutError{Msg: "missing <mj-body>"}
	}

	var b strings.Builder
	writeDocument(&b, doc.child("mj-head"), body)
	return b.String(), nil
}

func parseLayout(src string) (*layoutNode, error) {
	z := xhtml.NewTokenizer(strings.NewReader(src))
	root := &layoutNode{tag: "#root"}
	stack := []*layoutNode{root}

	for {
		tt := z.Next()
		switch tt {
		case xhtml.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				if len(stack) > 1 {
					return nil, &LayoutError{Msg: fmt.Sprintf("unclosed <%s>", stack[len(stack)-1].tag)}
				}
				return root, nil
			}
			return nil, &LayoutError{Msg: z.Err().Error()}

		case xhtml.TextToken:
			if strings.TrimSpace(string(z.Text())) != "" {
				return nil, &LayoutError{Msg: fmt.Sprintf("unexpected text inside <%s>", stack[len(stack)-1].tag)}
			}

		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if !layoutTags[tag] {
				if strings.HasPrefix(tag, "mj") {
					return nil, &LayoutError{Msg: fmt.Sprintf("unsupported element <%s>", tag)}
				}
				return nil, &LayoutError{Msg: fmt.Sprintf("<%s> must be inside <mj-text> or <mj-raw>", tag)}
			}
			n := &layoutNode{tag: tag, attrs: readAttrs(z, hasAttr)}
			parent := stack[len(stack)-1]
			selfClosing := tt == xhtml.SelfClosingTagToken

			switch {
			case tag == "mj-attributes":
				if !selfClosing {
					if _, err := captureRaw(z, tag); err != nil {
						return nil, err
					}
				}
			case contentTags[tag]:
				if !selfClosing {
					content, err := captureRaw(z, tag)
					if err != nil {
						return nil, err
					}
					n.content = content
				}
				parent.children = append(parent.children, n)
			case voidTags[tag]:
				parent.children = append(parent.children, n)
			default:
				parent.children = append(parent.children, n)
				if !selfClosing {
					stack = append(stack, n)
				}
			}

		case xhtml.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if voidTags[tag] {
				continue
			}
			top := stack[len(stack)-1]
			if len(stack) == 1 || top.tag != tag {
				return nil, &LayoutError{Msg: fmt.Sprintf("unexpected </%s>", tag)}
			}
			stack = stack[:len(stack)-1]
		}
	}
}

func readAttrs(z *xhtml.Tokenizer, more bool) map[string]string {
	attrs := map[string]string{}
	for more {
		var key, val []byte
		key, val, more = z.TagAttr()
		attrs[string(key)] = string(val)
	}
	return attrs
}

// captureRaw returns the untouched markup up to the matching end tag
func captureRaw(z *xhtml.Tokenizer, tag string) (string, error) {
	var b strings.Builder
	depth := 0
	for {
		tt := z.Next()
		switch tt {
		case xhtml.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return "", &LayoutError{Msg: fmt.Sprintf("unclosed <%s>", tag)}
			}
			return "", &LayoutError{Msg: z.Err().Error()}
		case xhtml.StartTagToken:
			if name, _ := z.TagName(); string(name) == tag {
				depth++
			}
		case xhtml.EndTagToken:
			if name, _ := z.TagName(); string(name) == tag {
				if depth == 0 {
					return strings.TrimSpace(b.String()), nil
				}
				depth--
			}
		}
		b.Write(z.Raw())
	}
}

func writeDocument(b *strings.Builder, head, body *layoutNode) {
	var title, preview string
	if head != nil {
		if t := head.child("mj-title"); t != nil {
			title = t.content
		}
		if p := head.child("mj-preview"); p != nil {
			preview = p.content
		}
	}
	width := pixels(body.attr("width", ""), defaultBodyWidth)
	bg := body.attr("background-color", "#ffffff")

	b.WriteString("<!doctype html>\n<html><head>")
	b.WriteString(`<meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">`)
	fmt.Fprintf(b, "<title>%s</title>", title)
	b.WriteString("<style>body{margin:0;padding:0}table,td{border-collapse:collapse}img{border:0;outline:none;text-decoration:none}")
	b.WriteString("@media only screen and (max-width:480px){.column{display:block!important;width:100%!important}}</style>")
	if head != nil {
		for _, c := range head.children {
			if c.tag == "mj-raw" {
				b.WriteString(c.content)
			}
		}
	}
	fmt.Fprintf(b, `</head><body style="margin:0;padding:0;background-color:%s">`, attrEscape(bg))
	if preview != "" {
		fmt.Fprintf(b, `<div style="display:none;max-height:0;overflow:hidden">%s</div>`, preview)
	}
	fmt.Fprintf(b, `<table role="presentation" width="100%%" cellpadding="0" cellspacing="0" border="0" style="background-color:%s"><tr><td align="center">`, attrEscape(bg))
	fmt.Fprintf(b, `<table role="presentation" width="%d" cellpadding="0" cellspacing="0" border="0" style="width:100%%;max-width:%dpx">`, width, width)

	var loose []*layoutNode
	flush := func() {
		if len(loose) > 0 {
			writeSection(b, &layoutNode{tag: "mj-section", children: loose})
			loose = nil
		}
	}
	for _, c := range body.children {
		switch c.tag {
		case "mj-section":
			flush()
			writeSection(b, c)
		default:
			loose = append(loose, c)
		}
	}
	flush()
	b.WriteString("</table></td></tr></table></body></html>")
}

func writeSection(b *strings.Builder, section *layoutNode) {
	var columns [][]*layoutNode
	var attrs []*layoutNode
	var loose []*layoutNode
	for _, c := range section.children {
		if c.tag == "mj-column" {
			if len(loose) > 0 {
				columns = append(columns, loose)
				attrs = append(attrs, nil)
				loose = nil
			}
			columns = append(columns, c.children)
			attrs = append(attrs, c)
			continue
		}
		loose = append(loose, c)
	}
	if len(loose) > 0 {
		columns = append(columns, loose)
		attrs = append(attrs, nil)
	}

	fmt.Fprintf(b, `<tr><td style="padding:%s;background-color:%s;text-align:%s">`,
		attrEscape(section.attr("padding", "20px 0")),
		attrEscape(section.attr("background-color", "transparent")),
		attrEscape(section.attr("text-align", "center")))
	b.WriteString(`<table role="presentation" width="100%" cellpadding="0" cellspacing="0" border="0"><tr>`)
	for i, children := range columns {
		width := fmt.Sprintf("%d%%", 100/len(columns))
		style := ""
		if col := attrs[i]; col != nil {
			width = col.attr("width", width)
			if bg := col.attr("background-color", ""); bg != "" {
				style = "background-color:" + bg + ";"
			}
			style += "padding:" + col.attr("padding", "0")
		}
		fmt.Fprintf(b, `<td class="column" valign="top" width="%s" style="%s">`, attrEscape(width), attrEscape(style))
		b.WriteString(`<table role="presentation" width="100%" cellpadding="0" cellspacing="0" border="0">`)
		for _, c := range children {
			writeBlock(b, c)
		}
		b.WriteString("</table></td>")
	}
	b.WriteString("</tr></table></td></tr>")
}

func writeBlock(b *strings.Builder, n *layoutNode) {
	switch n.tag {
	case "mj-text":
		fmt.Fprintf(b, `<tr><td align="%s" style="padding:%s;font-family:%s;font-size:%s;line-height:%s;color:%s">%s</td></tr>`,
			attrEscape(n.attr("align", "left")),
			attrEscape(n.attr("padding", "10px 25px")),
			attrEscape(n.attr("font-family", defaultFontFamily)),
			attrEscape(n.attr("font-size", "13px")),
			attrEscape(n.attr("line-height", "1.5")),
			attrEscape(n.attr("color", "#000000")),
			n.content)
	case "mj-button":
		fmt.Fprintf(b, `<tr><td align="%s" style="padding:%s">`,
			attrEscape(n.attr("align", "center")), attrEscape(n.attr("padding", "10px 25px")))
		fmt.Fprintf(b, `<a href="%s" target="_blank" style="display:inline-block;background-color:%s;color:%s;font-family:%s;font-size:%s;padding:%s;border-radius:%s;text-decoration:none">%s</a></td></tr>`,
			attrEscape(n.attr("href", "#")),
			attrEscape(n.attr("background-color", "#414141")),
			attrEscape(n.attr("color", "#ffffff")),
			attrEscape(n.attr("font-family", defaultFontFamily)),
			attrEscape(n.attr("font-size", "13px")),
			attrEscape(n.attr("inner-padding", "10px 25px")),
			attrEscape(n.attr("border-radius", "3px")),
			n.content)
	case "mj-image":
		img := fmt.Sprintf(`<img src="%s" alt="%s" style="display:block;border:0;width:100%%;max-width:%s;height:auto"`,
			attrEscape(n.attr("src", "")), attrEscape(n.attr("alt", "")), attrEscape(n.attr("width", "100%")))
		if w := pixels(n.attr("width", ""), 0); w > 0 {
			img += fmt.Sprintf(` width="%d"`, w)
		}
		img += ">"
		if href := n.attr("href", ""); href != "" {
			img = fmt.Sprintf(`<a href="%s" target="_blank">%s</a>`, attrEscape(href), img)
		}
		fmt.Fprintf(b, `<tr><td align="%s" style="padding:%s">%s</td></tr>`,
			attrEscape(n.attr("align", "center")), attrEscape(n.attr("padding", "10px 25px")), img)
	case "mj-divider":
		fmt.Fprintf(b, `<tr><td style="padding:%s"><p style="border-top:%s %s %s;margin:0 auto;width:%s;font-size:1px;line-height:1px">&nbsp;</p></td></tr>`,
			attrEscape(n.attr("padding", "10px 25px")),
			attrEscape(n.attr("border-width", "4px")),
			attrEscape(n.attr("border-style", "solid")),
			attrEscape(n.attr("border-color", "#000000")),
			attrEscape(n.attr("width", "100%")))
	case "mj-spacer":
		h := attrEscape(n.attr("height", "20px"))
		fmt.Fprintf(b, `<tr><td style="height:%s;line-height:%s;font-size:0">&nbsp;</td></tr>`, h, h)
	case "mj-raw":
		fmt.Fprintf(b, "<tr><td>%s</td></tr>", n.content)
	default:
		// mj-column nested in a column and friends are flattened
		for _, c := range n.children {
			writeBlock(b, c)
		}
	}
}

func attrEscape(s string) string {
	return html.EscapeString(s)
}

// pixels parses values like "600px" or "600", returning def when unparseable
func pixels(v string, def int) int {
	v = strings.TrimSuffix(strings.TrimSpace(v), "px")
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return def
	}
	return n
}
