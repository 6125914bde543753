// Package render implements the campaign template pipeline: mustache-style
// token substitution with conditional blocks, an MJML-subset layout compiler,
// per-recipient footers and the unresolved-token gate.
package render

import (
	"fmt"
	"regexp"
	"strings"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)

// ParseError describes malformed block structure in a template
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("template parse error at offset %d: %s", e.Pos, e.Msg)
}

type tokenKind int

const (
	tokText tokenKind = iota
	tokVar
	tokRawVar
	tokIf
	tokElse
	tokEndIf
)

type token struct {
	kind tokenKind
	name string
	src  string
	pos  int
}

// lex splits src into text and tag tokens. Anything between braces that is
// not a recognised tag stays literal text so the gate can report it.
func lex(src string) []token {
	var tokens []token
	var text strings.Builder
	textStart := 0

	flush := func() {
		if text.Len() > 0 {
			tokens = append(tokens, token{kind: tokText, src: text.String(), pos: textStart})
			text.Reset()
		}
	}

	i := 0
	for i < len(src) {
		open := strings.Index(src[i:], "{{")
		if open < 0 {
			if text.Len() == 0 {
				textStart = i
			}
			text.WriteString(src[i:])
			break
		}
		if open > 0 {
			if text.Len() == 0 {
				textStart = i
			}
			text.WriteString(src[i : i+open])
		}
		start := i + open

		if tok, end, ok := lexTag(src, start); ok {
			flush()
			tokens = append(tokens, tok)
			i = end
			continue
		}

		// not a tag: keep the braces literally and move on
		if text.Len() == 0 {
			textStart = start
		}
		text.WriteString("{{")
		i = start + 2
	}
	flush()
	return tokens
}

func lexTag(src string, start int) (token, int, bool) {
	if strings.HasPrefix(src[start:], "{{{") {
		closeIdx := strings.Index(src[start+3:], "}}}")
		if closeIdx < 0 {
			return token{}, 0, false
		}
		end := start + 3 + closeIdx + 3
		name := strings.TrimSpace(src[start+3 : start+3+closeIdx])
		if !identPattern.MatchString(name) {
			return token{}, 0, false
		}
		return token{kind: tokRawVar, name: name, src: src[start:end], pos: start}, end, true
	}

	closeIdx := strings.Index(src[start+2:], "}}")
	if closeIdx < 0 {
		return token{}, 0, false
	}
	end := start + 2 + closeIdx + 2
	body := strings.TrimSpace(src[start+2 : start+2+closeIdx])
	tagSrc := src[start:end]

	switch {
	case strings.HasPrefix(body, "#if "):
		name := strings.TrimSpace(strings.TrimPrefix(body, "#if "))
		if !identPattern.MatchString(name) {
			return token{}, 0, false
		}
		return token{kind: tokIf, name: name, src: tagSrc, pos: start}, end, true
	case body == "else":
		return token{kind: tokElse, src: tagSrc, pos: start}, end, true
	case body == "/if":
		return token{kind: tokEndIf, src: tagSrc, pos: start}, end, true
	case identPattern.MatchString(body):
		return token{kind: tokVar, name: body, src: tagSrc, pos: start}, end, true
	}
	return token{}, 0, false
}

// Template is a parsed template
type Template struct {
	source string
	nodes  []node
}

// Parse builds the template AST. Conditional blocks may nest to any depth.
func Parse(src string) (*Template, error) {
	p := &parser{tokens: lex(src)}
	nodes, stop, err := p.parseNodes(0)
	if err != nil {
		return nil, err
	}
	if stop != nil {
		return nil, &ParseError{Pos: stop.pos, Msg: fmt.Sprintf("unexpected %s", stop.src)}
	}
	return &Template{source: src, nodes: nodes}, nil
}

// MustParse is like Parse but panics on error
func MustParse(src string) *Template {
	t, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return t
}

// Source returns the template text that was parsed
func (t *Template) Source() string {
	return t.source
}

type parser struct {
	tokens []token
	pos    int
}

// parseNodes consumes tokens until EOF or an else/endif, which is returned
// unconsumed-by-caller as stop.
func (p *parser) parseNodes(depth int) ([]node, *token, error) {
	var nodes []node
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		switch tok.kind {
		case tokText:
			nodes = append(nodes, textNode(tok.src))
			p.pos++
		case tokVar, tokRawVar:
			nodes = append(nodes, &varNode{name: tok.name, raw: tok.kind == tokRawVar, src: tok.src})
			p.pos++
		case tokIf:
			p.pos++
			block, err := p.parseIf(tok, depth+1)
			if err != nil {
				return nil, nil, err
			}
			nodes = append(nodes, block)
		case tokElse, tokEndIf:
			if depth == 0 {
				return nil, nil, &ParseError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %s", tok.src)}
			}
			return nodes, &tok, nil
		}
	}
	return nodes, nil, nil
}

func (p *parser) parseIf(open token, depth int) (*ifNode, error) {
	block := &ifNode{name: open.name}

	then, stop, err := p.parseNodes(depth)
	if err != nil {
		return nil, err
	}
	if stop == nil {
		return nil, &ParseError{Pos: open.pos, Msg: fmt.Sprintf("unclosed %s", open.src)}
	}
	block.then = then
	p.pos++

	if stop.kind == tokElse {
		els, stop2, err := p.parseNodes(depth)
		if err != nil {
			return nil, err
		}
		if stop2 == nil {
			return nil, &ParseError{Pos: open.pos, Msg: fmt.Sprintf("unclosed %s", open.src)}
		}
		if stop2.kind == tokElse {
			return nil, &ParseError{Pos: stop2.pos, Msg: "duplicate {{else}}"}
		}
		block.els = els
		p.pos++
	}
	return block, nil
}
