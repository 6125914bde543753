package render

import (
	"fmt"
	"html"
	"strings"
)

// FooterPlaceholders are the names that mark a template as placing its own
// footer. Their values are markup and are never escaped.
var FooterPlaceholders = []string{"footer", "footer_html", "footer_text", "footer_mjml"}

func isFooterPlaceholder(name string) bool {
	for _, p := range FooterPlaceholders {
		if name == p {
			return true
		}
	}
	return false
}

// Company is the sender identity printed in every footer
type Company struct {
	Name    string
	Address string
	URL     string
}

// FooterLinks are the per-recipient unsubscribe links
type FooterLinks struct {
	OneClickURL string
	PageURL     string
}

// Footer holds the three renderings of a recipient footer
type Footer struct {
	HTML string
	Text string
	MJML string
}

// BuildFooter renders the compliance footer for one recipient
func BuildFooter(c Company, links FooterLinks) Footer {
	unsub := links.PageURL
	if unsub == "" {
		unsub = links.OneClickURL
	}

	var inner strings.Builder
	if c.Name != "" {
		inner.WriteString(html.EscapeString(c.Name))
	}
	if c.Address != "" {
		if inner.Len() > 0 {
			inner.WriteString("<br>")
		}
		inner.WriteString(html.EscapeString(c.Address))
	}
	if c.URL != "" {
		if inner.Len() > 0 {
			inner.WriteString("<br>")
		}
		fmt.Fprintf(&inner, `<a href="%s" style="color:#888888">%s</a>`, html.EscapeString(c.URL), html.EscapeString(c.URL))
	}
	if inner.Len() > 0 {
		inner.WriteString("<br><br>")
	}
	fmt.Fprintf(&inner, `You are receiving this email because you are registered with %s. <a href="%s" style="color:#888888">Unsubscribe</a>`,
		html.EscapeString(nonEmpty(c.Name, "us")), html.EscapeString(unsub))

	var text []string
	for _, line := range []string{c.Name, c.Address, c.URL} {
		if line != "" {
			text = append(text, line)
		}
	}
	if len(text) > 0 {
		text = append(text, "")
	}
	text = append(text, "Unsubscribe: "+unsub)

	return Footer{
		HTML: `<div class="footer" style="margin-top:24px;padding:16px 0;border-top:1px solid #e5e5e5;font-family:Arial,sans-serif;font-size:12px;color:#888888;text-align:center">` +
			inner.String() + `</div>`,
		Text: "--\n" + strings.Join(text, "\n"),
		MJML: `<mj-section padding="16px 0"><mj-column><mj-text align="center" font-size="12px" color="#888888">` +
			inner.String() + `</mj-text></mj-column></mj-section>`,
	}
}

// Vars exposes the footer renderings as template variables
func (f Footer) Vars() Vars {
	return Vars{
		"footer_html": f.HTML,
		"footer_text": f.Text,
		"footer_mjml": f.MJML,
	}
}

// InjectHTMLFooter places the footer inside body. Layout documents receive the
// MJML footer before </mj-body>, HTML documents before </body>, anything else
// gets it appended.
func InjectHTMLFooter(body string, f Footer) string {
	if IsLayout(body) {
		if i := lastIndexFold(body, "</mj-body>"); i >= 0 {
			return body[:i] + f.MJML + body[i:]
		}
		return body
	}
	if i := lastIndexFold(body, "</body>"); i >= 0 {
		return body[:i] + f.HTML + body[i:]
	}
	if body == "" {
		return f.HTML
	}
	return body + "\n" + f.HTML
}

// InjectTextFooter appends the footer after a blank line
func InjectTextFooter(text, footer string) string {
	text = strings.TrimRight(text, "\r\n ")
	if text == "" {
		return footer
	}
	return text + "\n\n" + footer
}

func lastIndexFold(s, substr string) int {
	return strings.LastIndex(strings.ToLower(s), strings.ToLower(substr))
}

func nonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
