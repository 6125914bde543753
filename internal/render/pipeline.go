package render

// Source is a campaign's message templates
type Source struct {
	Subject string
	HTML    string
	Text    string
}

// Message is a fully rendered message ready for delivery
type Message struct {
	Subject string
	HTML    string
	Text    string
}

// TemplateError wraps parse and layout failures
type TemplateError struct {
	Err error
}

func (e *TemplateError) Error() string {
	return "invalid template: " + e.Err.Error()
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// Compiled is a parsed Source that can be rendered for many recipients
type Compiled struct {
	subject *Template
	html    *Template
	text    *Template
	// set when the html or text template positions the footer itself
	htmlPlacesFooter bool
	textPlacesFooter bool
}

// Compile parses all parts of src
func Compile(src Source) (*Compiled, error) {
	var c Compiled
	var err error
	if c.subject, err = Parse(src.Subject); err != nil {
		return nil, &TemplateError{Err: err}
	}
	if c.html, err = Parse(src.HTML); err != nil {
		return nil, &TemplateError{Err: err}
	}
	if c.text, err = Parse(src.Text); err != nil {
		return nil, &TemplateError{Err: err}
	}
	c.htmlPlacesFooter = c.html.References(FooterPlaceholders...)
	c.textPlacesFooter = c.text.References(FooterPlaceholders...)
	return &c, nil
}

// References reports whether any part of the templates uses one of names
func (c *Compiled) References(names ...string) bool {
	return c.subject.References(names...) || c.html.References(names...) || c.text.References(names...)
}

// Render runs substitution, footer injection, layout compilation and the
// unresolved-token gate for one recipient. Failures are *TemplateError or
// *UnknownTokenError.
func (c *Compiled) Render(vars Vars, footer Footer) (*Message, error) {
	body, layout := c.renderHTML(vars, footer)
	msg := &Message{
		Subject: c.subject.Execute(vars, NoEscape),
		HTML:    body,
	}
	if !c.htmlPlacesFooter {
		msg.HTML = InjectHTMLFooter(msg.HTML, footer)
	}
	if layout {
		compiled, err := CompileLayout(msg.HTML)
		if err != nil {
			return nil, &TemplateError{Err: err}
		}
		msg.HTML = compiled
	}

	if c.text.Source() == "" {
		msg.Text = HTMLToText(msg.HTML)
	} else {
		textVars := merge(vars, footer.Vars())
		textVars["footer"] = footer.Text
		msg.Text = c.text.Execute(textVars, NoEscape)
		if !c.textPlacesFooter {
			msg.Text = InjectTextFooter(msg.Text, footer.Text)
		}
	}

	if err := Gate(msg.Subject, msg.HTML, msg.Text); err != nil {
		return nil, err
	}
	return msg, nil
}

// renderHTML substitutes the html body and reports whether the result is a
// layout document. A layout can arrive through a variable, so the decision
// is made on the output; {{footer}} is rendered again when the guess taken
// from the source was wrong.
func (c *Compiled) renderHTML(vars Vars, footer Footer) (string, bool) {
	htmlVars := merge(vars, footer.Vars())
	exec := func(layout bool) string {
		htmlVars["footer"] = footer.HTML
		if layout {
			htmlVars["footer"] = footer.MJML
		}
		return c.html.Execute(htmlVars, HTMLEscape)
	}

	guess := IsLayout(c.html.Source())
	body := exec(guess)
	layout := IsLayout(body)
	if layout != guess && c.html.References("footer") {
		body = exec(layout)
	}
	return body, layout
}

func merge(base, extra Vars) Vars {
	out := make(Vars, len(base)+len(extra)+1)
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
