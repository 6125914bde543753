package render

import (
	"regexp"
	"strings"

	xhtml "golang.org/x/net/html"
)

var (
	blockTags = map[string]bool{
		"p": true, "div": true, "br": true, "tr": true, "li": true, "table": true,
		"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
		"hr": true, "ul": true, "ol": true, "blockquote": true,
	}
	skipTags = map[string]bool{
		"head": true, "style": true, "script": true, "title": true,
	}
	spaceRun    = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
	spacedBreak = regexp.MustCompile(` *\n *`)
)

// HTMLToText derives a plain text alternative from an HTML body. Links keep
// their target in parentheses.
func HTMLToText(src string) string {
	z := xhtml.NewTokenizer(strings.NewReader(src))
	var b strings.Builder
	skip := 0
	var hrefs []string

	for {
		tt := z.Next()
		switch tt {
		case xhtml.ErrorToken:
			// io.EOF or malformed input, either way keep what was read
			return tidy(b.String())
		case xhtml.TextToken:
			if skip == 0 {
				b.WriteString(strings.ReplaceAll(string(z.Text()), "\n", " "))
			}
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if skipTags[tag] && tt == xhtml.StartTagToken {
				skip++
				continue
			}
			if blockTags[tag] {
				b.WriteString("\n")
			}
			if tag == "a" && tt == xhtml.StartTagToken {
				hrefs = append(hrefs, readAttrs(z, hasAttr)["href"])
			}
		case xhtml.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipTags[tag] {
				if skip > 0 {
					skip--
				}
				continue
			}
			if tag == "a" && len(hrefs) > 0 {
				href := hrefs[len(hrefs)-1]
				hrefs = hrefs[:len(hrefs)-1]
				if href != "" && !strings.HasPrefix(href, "#") && !strings.HasSuffix(strings.TrimSpace(b.String()), href) {
					b.WriteString(" (" + href + ")")
				}
			}
			if blockTags[tag] {
				b.WriteString("\n")
			}
		}
	}
}

func tidy(s string) string {
	s = spaceRun.ReplaceAllString(s, " ")
	s = spacedBreak.ReplaceAllString(s, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
