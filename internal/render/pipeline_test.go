package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFooter() Footer {
	return BuildFooter(
		Company{Name: "TaxDesk", Address: "1 Main St", URL: "https://taxdesk.example"},
		FooterLinks{OneClickURL: "https://taxdesk.example/u/tok", PageURL: "https://taxdesk.example/unsubscribe?token=tok"},
	)
}

func TestBuildFooter(t *testing.T) {
	f := testFooter()
	assert.Contains(t, f.HTML, "TaxDesk")
	assert.Contains(t, f.HTML, "1 Main St")
	assert.Contains(t, f.HTML, `href="https://taxdesk.example/unsubscribe?token=tok"`)
	assert.Contains(t, f.Text, "Unsubscribe: https://taxdesk.example/unsubscribe?token=tok")
	assert.True(t, strings.HasPrefix(f.MJML, "<mj-section"))
	assert.Contains(t, f.MJML, "TaxDesk")
}

func TestBuildFooter_FallsBackToOneClick(t *testing.T) {
	f := BuildFooter(Company{}, FooterLinks{OneClickURL: "https://x/u/1"})
	assert.Contains(t, f.Text, "Unsubscribe: https://x/u/1")
}

func TestInjectHTMLFooter(t *testing.T) {
	f := Footer{HTML: "<div>F</div>", MJML: "<mj-section>F</mj-section>"}

	assert.Equal(t, "<html><body>hi<div>F</div></body></html>", InjectHTMLFooter("<html><body>hi</body></html>", f))
	assert.Equal(t, "<p>hi</p>\n<div>F</div>", InjectHTMLFooter("<p>hi</p>", f))
	assert.Equal(t, "<mjml><mj-body>x<mj-section>F</mj-section></mj-body></mjml>",
		InjectHTMLFooter("<mjml><mj-body>x</mj-body></mjml>", f))
	assert.Equal(t, "body\n\n--\nF", InjectTextFooter("body\n", "--\nF"))
	assert.Equal(t, "--\nF", InjectTextFooter("", "--\nF"))
}

func TestRender_InjectsFooterAndEscapes(t *testing.T) {
	c, err := Compile(Source{
		Subject: "Hi {{name}} & co",
		HTML:    "<html><body><p>Hello {{name}}</p></body></html>",
		Text:    "Hello {{name}}",
	})
	require.NoError(t, err)

	msg, err := c.Render(Vars{"name": "<Ana>"}, testFooter())
	require.NoError(t, err)
	assert.Equal(t, "Hi <Ana> & co", msg.Subject)
	assert.Contains(t, msg.HTML, "<p>Hello &lt;Ana&gt;</p>")
	assert.Contains(t, msg.HTML, `class="footer"`)
	assert.True(t, strings.HasSuffix(msg.HTML, "</div></body></html>"))
	assert.True(t, strings.HasPrefix(msg.Text, "Hello <Ana>\n\n--\nTaxDesk"))
}

func TestRender_TemplatePlacesFooter(t *testing.T) {
	c, err := Compile(Source{
		Subject: "s",
		HTML:    "<p>top</p>{{{footer_html}}}<p>bottom</p>",
		Text:    "top\n{{footer_text}}\nbottom",
	})
	require.NoError(t, err)

	msg, err := c.Render(Vars{}, testFooter())
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(msg.HTML, `class="footer"`))
	assert.True(t, strings.HasSuffix(msg.HTML, "<p>bottom</p>"))
	assert.Equal(t, 1, strings.Count(msg.Text, "Unsubscribe:"))
	assert.True(t, strings.HasSuffix(msg.Text, "bottom"))
}

func TestRender_LayoutWithFooter(t *testing.T) {
	c, err := Compile(Source{
		Subject: "Season",
		HTML:    `<mjml><mj-body><mj-section><mj-column><mj-text>Hello {{name}}</mj-text></mj-column></mj-section></mj-body></mjml>`,
	})
	require.NoError(t, err)

	msg, err := c.Render(Vars{"name": "Ana"}, testFooter())
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "<!doctype html>")
	assert.Contains(t, msg.HTML, "Hello Ana")
	assert.Contains(t, msg.HTML, "1 Main St")
	assert.NotContains(t, msg.HTML, "mj-")
	assert.Contains(t, msg.Text, "Hello Ana")
	assert.Contains(t, msg.Text, "Unsubscribe")
}

func TestRender_EscapedFooterPlaceholderStaysMarkup(t *testing.T) {
	c, err := Compile(Source{Subject: "s", HTML: "<p>Hi</p>{{footer_html}}", Text: "Hello"})
	require.NoError(t, err)

	msg, err := c.Render(Vars{}, testFooter())
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, `<a href="https://taxdesk.example/unsubscribe?token=tok"`)
	assert.NotContains(t, msg.HTML, "&lt;")
	assert.Equal(t, 1, strings.Count(msg.HTML, `class="footer"`))

	// the text part did not place the footer, so it still gets one
	assert.True(t, strings.HasPrefix(msg.Text, "Hello\n\n--\n"))
	assert.Contains(t, msg.Text, "Unsubscribe: https://taxdesk.example/unsubscribe?token=tok")
}

func TestRender_TextPlacesFooterHTMLDoesNot(t *testing.T) {
	c, err := Compile(Source{Subject: "s", HTML: "<p>Hi</p>", Text: "{{footer}}\nHello"})
	require.NoError(t, err)

	msg, err := c.Render(Vars{}, testFooter())
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(msg.HTML, `class="footer"`))
	assert.Equal(t, 1, strings.Count(msg.Text, "Unsubscribe:"))
	assert.True(t, strings.HasSuffix(msg.Text, "Hello"))
}

func TestRender_LayoutFromVariableIsCompiled(t *testing.T) {
	c, err := Compile(Source{Subject: "s", HTML: "{{{body}}}"})
	require.NoError(t, err)

	body := `<mjml><mj-body><mj-section><mj-column><mj-text>Hello Ana</mj-text></mj-column></mj-section></mj-body></mjml>`
	msg, err := c.Render(Vars{"body": body}, testFooter())
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "<!doctype html>")
	assert.Contains(t, msg.HTML, "Hello Ana")
	assert.Contains(t, msg.HTML, "1 Main St")
	assert.NotContains(t, msg.HTML, "mj-")
}

func TestRender_LayoutFromVariableWithPlacedFooter(t *testing.T) {
	c, err := Compile(Source{Subject: "s", HTML: "{{{head}}}{{footer}}</mj-body></mjml>"})
	require.NoError(t, err)

	head := `<mjml><mj-body><mj-section><mj-column><mj-text>Hello</mj-text></mj-column></mj-section>`
	msg, err := c.Render(Vars{"head": head}, testFooter())
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "1 Main St")
	assert.NotContains(t, msg.HTML, "mj-")
	assert.NotContains(t, msg.HTML, `class="footer"`)
}

func TestRender_GateRejectsUnknownTokens(t *testing.T) {
	c, err := Compile(Source{Subject: "Hi {{first_name}}", HTML: "<p>{{promo_code}}</p>"})
	require.NoError(t, err)

	_, err = c.Render(Vars{}, testFooter())
	require.Error(t, err)
	var gerr *UnknownTokenError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "unknown token(s): {{first_name}}, {{promo_code}}", err.Error())
}

func TestRender_ValueContainingTokenSyntaxIsGated(t *testing.T) {
	c, err := Compile(Source{Subject: "s", HTML: "<p>{{{bio}}}</p>"})
	require.NoError(t, err)

	_, err = c.Render(Vars{"bio": "I like {{braces}}"}, testFooter())
	var gerr *UnknownTokenError
	require.ErrorAs(t, err, &gerr)
}

func TestCompile_InvalidTemplate(t *testing.T) {
	_, err := Compile(Source{Subject: "s", HTML: "{{#if a}}never closed"})
	require.Error(t, err)
	var terr *TemplateError
	require.ErrorAs(t, err, &terr)
	assert.True(t, strings.HasPrefix(err.Error(), "invalid template: "))
}

func TestRender_InvalidLayout(t *testing.T) {
	c, err := Compile(Source{Subject: "s", HTML: "<mjml><mj-body><mj-hero></mj-hero></mj-body></mjml>"})
	require.NoError(t, err)
	_, err = c.Render(Vars{}, testFooter())
	var terr *TemplateError
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, err.Error(), "unsupported element <mj-hero>")
}
