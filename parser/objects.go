package parser

import (
	"errors"
	"fmt"

	"pdfops/object"
	"pdfops/scanner"
)

// parseObject reads one complete object from the scanner: a primitive, an
// array, a dictionary, or an indirect reference. Stream payloads are the
// caller's concern since they need /Length resolution.
func parseObject(sc *scanner.Scanner) (object.Object, error) {
	tok, err := sc.Next()
	if err != nil {
		return nil, err
	}
	return parseFromToken(sc, tok, 0)
}

const maxNestingDepth = 256

func parseFromToken(sc *scanner.Scanner, tok scanner.Token, depth int) (object.Object, error) {
	if depth > maxNestingDepth {
		return nil, errors.New("object nesting too deep")
	}
	switch tok.Kind {
	case scanner.TokenNull:
		return object.Null{}, nil
	case scanner.TokenBoolean:
		return object.Boolean(tok.Bool), nil
	case scanner.TokenString:
		return object.String{Data: tok.Bytes, Hex: tok.Hex}, nil
	case scanner.TokenName:
		return object.Name(tok.Str), nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return maybeReference(sc, tok)
		}
		return object.Real(tok.Float), nil
	case scanner.TokenArrayOpen:
		return parseArray(sc, depth)
	case scanner.TokenDictOpen:
		return parseDict(sc, depth)
	}
	return nil, fmt.Errorf("unexpected token %q at offset %d", tok.Str, tok.Pos)
}

// maybeReference disambiguates "N" from "N G R" with two-token lookahead,
// rewinding when the pattern does not complete.
func maybeReference(sc *scanner.Scanner, numTok scanner.Token) (object.Object, error) {
	save := sc.Position()
	genTok, err := sc.Next()
	if err == nil && genTok.Kind == scanner.TokenNumber && genTok.IsInt && genTok.Int >= 0 {
		kwTok, err := sc.Next()
		if err == nil && kwTok.Kind == scanner.TokenKeyword && kwTok.Str == "R" {
			return object.Ref{Num: int(numTok.Int), Gen: int(genTok.Int)}, nil
		}
	}
	sc.Seek(save)
	return object.Integer(numTok.Int), nil
}

func parseArray(sc *scanner.Scanner, depth int) (object.Object, error) {
	arr := object.Array{}
	for {
		tok, err := sc.Next()
		if err != nil {
			return nil, errors.New("unterminated array")
		}
		if tok.Kind == scanner.TokenArrayClose {
			return arr, nil
		}
		item, err := parseFromToken(sc, tok, depth+1)
		if err != nil {
			return nil, err
		}
		arr = append(arr, item)
	}
}

func parseDict(sc *scanner.Scanner, depth int) (object.Object, error) {
	dict := object.Dict{}
	for {
		tok, err := sc.Next()
		if err != nil {
			return nil, errors.New("unterminated dictionary")
		}
		if tok.Kind == scanner.TokenDictClose {
			return dict, nil
		}
		if tok.Kind != scanner.TokenName {
			return nil, fmt.Errorf("dictionary key must be a name, got token at offset %d", tok.Pos)
		}
		valTok, err := sc.Next()
		if err != nil {
			return nil, errors.New("unterminated dictionary")
		}
		val, err := parseFromToken(sc, valTok, depth+1)
		if err != nil {
			return nil, err
		}
		dict[object.Name(tok.Str)] = val
	}
}
