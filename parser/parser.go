// Package parser implements a recursive-descent reader of PDF object
// syntax: numbers, strings, names, arrays, dictionaries, indirect
// references and stream headers. It operates purely on tokens; it knows
// nothing about a file's cross-reference table and does not itself
// follow indirect references. A higher-level reader composes this
// package with xref and crypt to resolve a full document.
package parser

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/halverson/pdfcore/internal/tokenizer"
	"github.com/halverson/pdfcore/model"
)

var (
	errArrayNotTerminated      = errors.New("parser: unterminated array")
	errDictNotTerminated       = errors.New("parser: unterminated dictionary")
	errDictKeyNotName          = errors.New("parser: dictionary key is not a name")
	errDictDuplicateKey        = errors.New("parser: duplicate dictionary key")
	errUnexpectedKeywordInFile = errors.New("parser: unexpected keyword outside a content stream")
)

// Parser turns a token stream into a tree of model.Object values. It
// holds exactly one token of lookahead, which is what lets
// parseNumberOrReference distinguish "12 0 R" from two bare integers.
type Parser struct {
	tk *tokenizer.Tokenizer

	// ContentStreamMode relaxes two rules that only apply inside a
	// content stream: bare keywords become model.Symbol operators
	// instead of being rejected, and indirect references are never
	// formed (content operands are never "N G R").
	ContentStreamMode bool

	// StrictDuplicateKeys, when true, rejects a dictionary that repeats
	// a key instead of keeping the first occurrence. Off by default:
	// malformed-but-common producers are tolerated the way most PDF
	// readers tolerate them.
	StrictDuplicateKeys bool
}

// New builds a parser over data, starting at offset 0.
func New(data []byte) *Parser {
	return &Parser{tk: tokenizer.New(data)}
}

// NewFromTokenizer builds a parser that shares tk's position, so a
// caller that has already located an object's start offset can continue
// scanning from exactly there.
func NewFromTokenizer(tk *tokenizer.Tokenizer) *Parser {
	return &Parser{tk: tk}
}

// NewContent builds a parser in ContentStreamMode over data.
func NewContent(data []byte) *Parser {
	return &Parser{tk: tokenizer.NewContent(data), ContentStreamMode: true}
}

// Pos returns the underlying tokenizer's current offset.
func (p *Parser) Pos() int64 { return p.tk.Pos() }

// Tokenizer exposes the underlying scanner, for callers (the xref and
// reader packages) that need to inspect raw tokens around an object,
// such as the "stream" keyword that follows a dictionary.
func (p *Parser) Tokenizer() *tokenizer.Tokenizer { return p.tk }

// ParseObject reads exactly one object starting at the parser's current
// position, consuming the tokens that make it up.
func (p *Parser) ParseObject() (model.Object, error) {
	tok, err := p.tk.Next()
	if err != nil {
		return nil, err
	}
	return p.parseFromToken(tok)
}

func (p *Parser) parseFromToken(tok tokenizer.Token) (model.Object, error) {
	switch tok.Kind {
	case tokenizer.EOF:
		return nil, fmt.Errorf("parser: unexpected end of input")
	case tokenizer.Name:
		return model.DecodeName(tok.Value), nil
	case tokenizer.String:
		return model.LiteralString(append([]byte(nil), tok.Value...)), nil
	case tokenizer.HexString:
		return model.HexString(append([]byte(nil), tok.Value...)), nil
	case tokenizer.StartArray:
		return p.parseArray()
	case tokenizer.StartDict:
		return p.parseDict()
	case tokenizer.Keyword:
		return p.parseKeyword(tok)
	case tokenizer.Number:
		return p.parseNumberOrReference(tok)
	default:
		return nil, fmt.Errorf("parser: unexpected token %v", tok.Kind)
	}
}

func (p *Parser) parseArray() (model.Array, error) {
	arr := model.Array{}
	for {
		tok, err := p.tk.Next()
		if err != nil {
			return nil, err
		}
		switch tok.Kind {
		case tokenizer.EndArray:
			return arr, nil
		case tokenizer.EOF:
			return nil, errArrayNotTerminated
		default:
			obj, err := p.parseFromToken(tok)
			if err != nil {
				return nil, err
			}
			arr = append(arr, obj)
		}
	}
}

func (p *Parser) parseDict() (model.Dict, error) {
	d := model.Dict{}
	for {
		tok, err := p.tk.Next()
		if err != nil {
			return nil, err
		}
		switch tok.Kind {
		case tokenizer.EndDict:
			return d, nil
		case tokenizer.EOF:
			return nil, errDictNotTerminated
		case tokenizer.Name:
			key := model.DecodeName(tok.Value)
			val, err := p.ParseObject()
			if err != nil {
				return nil, err
			}
			// "Specifying the null object as the value of a dictionary
			// entry shall be equivalent to omitting the entry entirely."
			if _, isNull := val.(model.Null); isNull {
				continue
			}
			if _, exists := d[key]; exists {
				if p.StrictDuplicateKeys {
					return nil, errDictDuplicateKey
				}
				continue // first occurrence wins
			}
			d[key] = val
		default:
			return nil, errDictKeyNotName
		}
	}
}

func (p *Parser) parseKeyword(tok tokenizer.Token) (model.Object, error) {
	switch string(tok.Value) {
	case "null":
		return model.Null{}, nil
	case "true":
		return model.Boolean(true), nil
	case "false":
		return model.Boolean(false), nil
	default:
		if p.ContentStreamMode {
			return model.Symbol(tok.Value), nil
		}
		return nil, fmt.Errorf("%w: %q", errUnexpectedKeywordInFile, tok.Value)
	}
}

// parseNumberOrReference implements the one-token-lookahead rule: an
// integer followed by another integer followed by the keyword "R" is an
// indirect reference; anything else rolls back to a bare number.
func (p *Parser) parseNumberOrReference(tok tokenizer.Token) (model.Object, error) {
	first, isInt, err := parseNumber(tok.Value)
	if err != nil {
		return nil, err
	}
	if !isInt || p.ContentStreamMode {
		return first, nil
	}

	save := p.tk.Pos()
	secondTok, err := p.tk.Next()
	if err != nil {
		return nil, err
	}
	if secondTok.Kind != tokenizer.Number {
		p.tk.Seek(save)
		return first, nil
	}
	second, secondIsInt, err := parseNumber(secondTok.Value)
	if err != nil || !secondIsInt {
		p.tk.Seek(save)
		return first, nil
	}

	thirdTok, err := p.tk.Next()
	if err != nil {
		return nil, err
	}
	if !thirdTok.IsKeyword("R") {
		p.tk.Seek(save)
		return first, nil
	}

	gen, ok := first.(model.Integer)
	genGen, ok2 := second.(model.Integer)
	if !ok || !ok2 || gen < 0 || genGen < 0 || genGen > 0xffff {
		return nil, fmt.Errorf("parser: invalid indirect reference %s %s R", tok.Value, secondTok.Value)
	}
	return model.Reference{Number: uint32(gen), Generation: uint16(genGen)}, nil
}

func parseNumber(raw []byte) (model.Object, bool, error) {
	s := string(raw)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return model.Integer(i), true, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false, fmt.Errorf("parser: invalid number %q", s)
	}
	return model.Real(f), false, nil
}

// ObjectHeader is the "N G obj" line that precedes every indirect
// object's value in a file body.
type ObjectHeader struct {
	Number     uint32
	Generation uint16
}

// ParseObjectHeader reads the "N G obj" line at the parser's current
// position and leaves it positioned right after the "obj" keyword,
// ready to parse the object's value.
func (p *Parser) ParseObjectHeader() (ObjectHeader, error) {
	numTok, err := p.tk.Next()
	if err != nil {
		return ObjectHeader{}, err
	}
	if numTok.Kind != tokenizer.Number {
		return ObjectHeader{}, fmt.Errorf("parser: expected object number, got %v", numTok.Kind)
	}
	num, err := strconv.ParseUint(string(numTok.Value), 10, 32)
	if err != nil {
		return ObjectHeader{}, fmt.Errorf("parser: invalid object number %q", numTok.Value)
	}

	genTok, err := p.tk.Next()
	if err != nil {
		return ObjectHeader{}, err
	}
	if genTok.Kind != tokenizer.Number {
		return ObjectHeader{}, fmt.Errorf("parser: expected generation number, got %v", genTok.Kind)
	}
	gen, err := strconv.ParseUint(string(genTok.Value), 10, 16)
	if err != nil {
		return ObjectHeader{}, fmt.Errorf("parser: invalid generation number %q", genTok.Value)
	}

	objTok, err := p.tk.Next()
	if err != nil {
		return ObjectHeader{}, err
	}
	if !objTok.IsKeyword("obj") {
		return ObjectHeader{}, fmt.Errorf("parser: expected 'obj' keyword, got %q", objTok.Value)
	}

	return ObjectHeader{Number: uint32(num), Generation: uint16(gen)}, nil
}

// PeekIsStreamKeyword reports whether the next token is the "stream"
// keyword, without consuming it on a negative result. Callers use this
// right after parsing a dictionary to decide whether it is really a
// stream object.
func (p *Parser) PeekIsStreamKeyword() (bool, error) {
	save := p.tk.Pos()
	tok, err := p.tk.Next()
	if err != nil {
		return false, err
	}
	if tok.IsKeyword("stream") {
		return true, nil
	}
	p.tk.Seek(save)
	return false, nil
}
