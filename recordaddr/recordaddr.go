// Package recordaddr parses the one-line record-link address string
// described in spec §6, the Go equivalent of RecordAddress::parse and its
// anonymous-namespace Parser class in RecordAddress.cpp. Unlike the
// original, which recognises only the eight ChimeraTK scalar types it
// needs for its own record types, this implements the richer grammar given
// directly in spec §6 (bool, int64, uint64, string, void and a trailing
// option list), since that grammar is itself the external interface this
// package is contracted to.
//
// recordaddr does not bind to any EPICS record or DBLINK type: per spec §1
// that binding is explicitly out of scope, so Parse takes and returns
// plain strings and a structured Address value.
package recordaddr

import (
	"strconv"
	"strings"

	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvname"
	"github.com/aquenos/ChimeraTK-ControlSystemAdapter-EPICS/pvsupport"
)

// ValueType is the optional, explicit element type a consumer may name
// after the PV name in an address string.
type ValueType int

const (
	// TypeUnspecified means the address named no value type, so the
	// consumer should fall back to the provider's default type.
	TypeUnspecified ValueType = iota
	TypeBool
	TypeInt8
	TypeUint8
	TypeInt16
	TypeUint16
	TypeInt32
	TypeUint32
	TypeInt64
	TypeUint64
	TypeFloat
	TypeDouble
	TypeString
	TypeVoid
)

func (t ValueType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt8:
		return "int8"
	case TypeUint8:
		return "uint8"
	case TypeInt16:
		return "int16"
	case TypeUint16:
		return "uint16"
	case TypeInt32:
		return "int32"
	case TypeUint32:
		return "uint32"
	case TypeInt64:
		return "int64"
	case TypeUint64:
		return "uint64"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeVoid:
		return "void"
	default:
		return "unspecified"
	}
}

var valueTypeNames = map[string]ValueType{
	"bool":   TypeBool,
	"int8":   TypeInt8,
	"uint8":  TypeUint8,
	"int16":  TypeInt16,
	"uint16": TypeUint16,
	"int32":  TypeInt32,
	"uint32": TypeUint32,
	"int64":  TypeInt64,
	"uint64": TypeUint64,
	"float":  TypeFloat,
	"double": TypeDouble,
	"string": TypeString,
	"void":   TypeVoid,
}

// Options holds the parsed contents of the address string's trailing,
// optional parenthesised option list.
type Options struct {
	// NoBidirectional, the one option the grammar currently names, turns
	// off output reconciliation (spec §4.4) for this handle.
	NoBidirectional bool
}

// Address is the parsed form of a record-link address string.
type Address struct {
	Name         string // application or device id
	PV           string // canonicalised PV name
	ValueType    ValueType
	HasValueType bool
	Options      Options
}

const nameChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz_0123456789"
const separatorChars = " \t"

// Parse parses address per the grammar in spec §6:
//
//	address   := name WS pv (WS valueType)? (WS '(' option (',' option)* ')')?
//	name      := [A-Za-z0-9_]+
//	pv        := any non-whitespace (canonicalised)
//	valueType := bool | int8 | uint8 | int16 | uint16 | int32 | uint32
//	           | int64 | uint64 | float | double | string | void
//	option    := 'nobidirectional'
//
// Parsing failure returns an AddressParse error whose Pos field is the
// 1-based character index of the offending input, matching the original's
// "Error at character N" convention.
func Parse(address string) (Address, error) {
	p := &parser{input: address}
	name := p.name()
	if p.err != nil {
		return Address{}, p.err
	}
	p.separator()
	if p.err != nil {
		return Address{}, p.err
	}
	pv := p.pv()
	if p.err != nil {
		return Address{}, p.err
	}

	addr := Address{Name: name, PV: pvname.Canonical(pv)}

	if !p.atEnd() {
		p.separator()
		if p.err != nil {
			return Address{}, p.err
		}
	}
	if !p.atEnd() && p.peek() != '(' {
		addr.ValueType = p.valueType()
		addr.HasValueType = true
		if p.err != nil {
			return Address{}, p.err
		}
		if !p.atEnd() {
			p.separator()
			if p.err != nil {
				return Address{}, p.err
			}
		}
	}

	if !p.atEnd() {
		if p.peek() != '(' {
			return Address{}, p.fail("expected end of string or an option list")
		}
		addr.Options = p.optionList()
		if p.err != nil {
			return Address{}, p.err
		}
	}

	if !p.atEnd() {
		return Address{}, p.fail("expected end of string")
	}
	return addr, nil
}

type parser struct {
	input string
	pos   int
	err   error
}

func (p *parser) atEnd() bool { return p.pos >= len(p.input) }

func (p *parser) peek() byte { return p.input[p.pos] }

func (p *parser) excerpt() string {
	rest := p.input[p.pos:]
	if len(rest) > 5 {
		return rest[:5]
	}
	return rest
}

func (p *parser) fail(message string) error {
	if p.err == nil {
		pos := p.pos + 1
		cause := addressParseCause("character " + strconv.Itoa(pos) + " of the record address: " + message)
		p.err = &pvsupport.Error{Kind: pvsupport.AddressParse, Pos: pos, Cause: cause}
	}
	return p.err
}

func (p *parser) failExpected(what string) error {
	if p.atEnd() {
		return p.fail("expected " + what + ", but found end of string")
	}
	return p.fail("expected " + what + ", but found \"" + p.excerpt() + "\"")
}

func isIn(c byte, set string) bool { return strings.IndexByte(set, c) >= 0 }

func (p *parser) takeWhileIn(set string) string {
	start := p.pos
	for !p.atEnd() && isIn(p.peek(), set) {
		p.pos++
	}
	return p.input[start:p.pos]
}

func (p *parser) takeWhileNotIn(set string) string {
	start := p.pos
	for !p.atEnd() && !isIn(p.peek(), set) {
		p.pos++
	}
	return p.input[start:p.pos]
}

func (p *parser) name() string {
	if p.err != nil {
		return ""
	}
	if p.atEnd() || !isIn(p.peek(), nameChars) {
		p.failExpected("an application or device name")
		return ""
	}
	return p.takeWhileIn(nameChars)
}

func (p *parser) separator() {
	if p.err != nil {
		return
	}
	if p.atEnd() || !isIn(p.peek(), separatorChars) {
		p.failExpected("whitespace")
		return
	}
	p.takeWhileIn(separatorChars)
}

func (p *parser) pv() string {
	if p.err != nil {
		return ""
	}
	if p.atEnd() || isIn(p.peek(), separatorChars) {
		p.failExpected("a PV name")
		return ""
	}
	return p.takeWhileNotIn(separatorChars)
}

func (p *parser) valueType() ValueType {
	if p.err != nil {
		return TypeUnspecified
	}
	start := p.pos
	word := p.takeWhileIn(nameChars)
	t, ok := valueTypeNames[word]
	if !ok {
		p.pos = start
		p.failExpected("a value type specifier")
		return TypeUnspecified
	}
	return t
}

func (p *parser) optionList() Options {
	var opts Options
	if p.err != nil {
		return opts
	}
	// consume '('
	p.pos++
	for {
		p.takeWhileIn(separatorChars)
		start := p.pos
		word := p.takeWhileIn(nameChars)
		switch word {
		case "nobidirectional":
			opts.NoBidirectional = true
		case "":
			p.pos = start
			p.failExpected("an option name")
			return opts
		default:
			p.pos = start
			p.fail("unknown option \"" + word + "\"")
			return opts
		}
		p.takeWhileIn(separatorChars)
		if p.atEnd() {
			p.failExpected("',' or ')'")
			return opts
		}
		switch p.peek() {
		case ',':
			p.pos++
			continue
		case ')':
			p.pos++
			return opts
		default:
			p.failExpected("',' or ')'")
			return opts
		}
	}
}

type addressParseCause string

func (c addressParseCause) Error() string { return string(c) }
