package tokenizer

import (
	"github.com/clamorhtml/clamor/entities"
	"github.com/clamorhtml/clamor/inputstream"
)

// TokenType discriminates the Token union.
type TokenType uint

const (
	TokenCharacter TokenType = iota
	TokenStartTag
	TokenEndTag
	TokenComment
	TokenDoctype
	TokenEOF
)

func (t TokenType) String() string {
	switch t {
	case TokenCharacter:
		return "character"
	case TokenStartTag:
		return "start-tag"
	case TokenEndTag:
		return "end-tag"
	case TokenComment:
		return "comment"
	case TokenDoctype:
		return "doctype"
	case TokenEOF:
		return "eof"
	}
	return "unknown"
}

// Attribute is a single name/value pair on a tag. Both fields are spans into
// the input buffer.
type Attribute struct {
	Name  inputstream.Span
	Value inputstream.Span
}

// Tag is the payload of start- and end-tag tokens. The tokenizer never sets
// SelfClosing or NS; they exist for the token consumer (the tree builder
// rewrites NS when emitting into foreign content).
type Tag struct {
	Name        inputstream.Span
	Attributes  []Attribute
	SelfClosing bool
	NS          string
}

// Doctype is the payload of doctype tokens. The name is uppercased in the
// buffer as it is collected; Correct reports whether it read "HTML"
// (case-insensitively in the source, so byte-exactly after uppercasing)
// and the doctype was closed by '>' with only whitespace after the name.
// A doctype cut off by EOF or with other text after the name is not
// correct.
// PublicID and SystemID are always empty here.
type Doctype struct {
	Name     inputstream.Span
	Correct  bool
	PublicID inputstream.Span
	SystemID inputstream.Span
}

// Token is the unit delivered to the token sink. All spans reference the
// input buffer and stay valid only until the next operation that can move
// it; consumers copy out what they need to keep.
type Token struct {
	Type      TokenType
	Character inputstream.Span
	Tag       Tag
	Comment   inputstream.Span
	Doctype   Doctype
}

// context is the scratch state for the token under construction.
type context struct {
	currentTagType TokenType
	currentTag     Tag

	currentComment inputstream.Span

	currentDoctype Doctype

	currentChars inputstream.Span

	// prevState is the state an attribute-value handler was in when it hit
	// '&'; entity-in-attribute-value resumes it.
	prevState state

	closeTagMatch struct {
		tag inputstream.Span
	}

	matchDoctype struct {
		count int
	}

	matchEntity matchEntity
}

// matchEntity is the entity consumer's scratch.
type matchEntity struct {
	str         inputstream.Span
	base        int
	codepoint   rune
	hadData     bool
	returnState state
	complete    bool
	doneSetup   bool
	search      entities.Context
	prevLen     int
}
