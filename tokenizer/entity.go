package tokenizer

import (
	"github.com/pkg/errors"

	"github.com/clamorhtml/clamor/entities"
	"github.com/clamorhtml/clamor/inputstream"
)

// cp1252Table maps code points 0x80-0x9F to their Windows-1252 equivalents.
// Numeric references in that range are reinterpreted through it.
var cp1252Table = [32]rune{
	0x20AC, 0xFFFD, 0x201A, 0x0192, 0x201E, 0x2026, 0x2020, 0x2021,
	0x02C6, 0x2030, 0x0160, 0x2039, 0x0152, 0xFFFD, 0x017D, 0xFFFD,
	0xFFFD, 0x2018, 0x2019, 0x201C, 0x201D, 0x2022, 0x2013, 0x2014,
	0x02DC, 0x2122, 0x0161, 0x203A, 0x0153, 0xFFFD, 0x017E, 0x0178,
}

// consumeEntity begins character-reference consumption at a '&'. It records
// the span of the reference, dispatches to the numbered or named
// sub-machine, and on completion leaves the resolved code point in the
// buffer (via range replacement) with the caller's state restored.
func (t *Tokenizer) consumeEntity() (bool, error) {
	me := &t.ctx.matchEntity

	if !me.doneSetup {
		off, n := t.input.CurPos()

		me.str = inputstream.Span{Off: off, Len: n}
		me.base = 0
		me.codepoint = 0
		me.hadData = false
		me.returnState = t.state
		me.complete = false
		me.doneSetup = true
		me.search = entities.Context{}
		me.prevLen = n

		t.input.Advance()
	}

	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}

	if err == nil && r == '#' {
		_, n := t.input.CurPos()
		me.str.Len += n

		t.state = numberedEntityState
		t.input.Advance()
	} else {
		t.state = namedEntityState
	}

	return true, nil
}

func (t *Tokenizer) handleNumberedEntity() (bool, error) {
	me := &t.ctx.matchEntity

	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}

	if me.base == 0 {
		if err == nil && (r&^0x20) == 'X' {
			me.base = 16

			_, n := t.input.CurPos()
			me.str.Len += n

			t.input.Advance()
		} else {
			me.base = 10
		}
	}

	for {
		r, err = t.input.Peek()
		if err != nil {
			break
		}

		if me.base == 10 && '0' <= r && r <= '9' {
			me.hadData = true
			me.codepoint = me.codepoint*10 + (r - '0')
		} else if me.base == 16 && ('0' <= r && r <= '9' ||
			'A' <= (r&^0x20) && (r&^0x20) <= 'F') {
			me.hadData = true
			me.codepoint *= 16
			if '0' <= r && r <= '9' {
				me.codepoint += r - '0'
			} else {
				me.codepoint += (r &^ 0x20) - 'A' + 10
			}
		} else {
			break
		}

		_, n := t.input.CurPos()
		me.str.Len += n
		t.input.Advance()
	}

	if err == inputstream.ErrOutOfData {
		return false, nil
	}

	// Eat a trailing semicolon, if any.
	if err == nil && r == ';' {
		_, n := t.input.CurPos()
		me.str.Len += n
		t.input.Advance()
	}

	if rerr := t.input.Rewind(me.str.Len); rerr != nil {
		return false, errors.Wrap(rerr, "tokenizer: rewinding numeric reference")
	}

	if me.hadData {
		if 0x80 <= me.codepoint && me.codepoint <= 0x9F {
			me.codepoint = cp1252Table[me.codepoint-0x80]
		} else if me.codepoint <= 0 || me.codepoint > 0x10FFFF {
			t.parseError("numeric reference out of range")
			me.codepoint = 0xFFFD
		}

		if rerr := t.input.ReplaceRange(me.str.Off, me.str.Len, me.codepoint); rerr != nil {
			return false, errors.Wrap(rerr, "tokenizer: resolving numeric reference")
		}
	} else {
		// "&#" or "&#x" with no digits stays in the buffer as data.
		t.parseError("numeric reference without digits")
	}

	me.doneSetup = false
	me.complete = true
	t.state = me.returnState
	return true, nil
}

func (t *Tokenizer) handleNamedEntity() (bool, error) {
	me := &t.ctx.matchEntity

	var r rune
	var err error
	for {
		r, err = t.input.Peek()
		if err != nil {
			break
		}

		if r > 0x7F {
			// Entity names are ASCII only.
			break
		}

		cp, res := entities.SearchStep(byte(r), &me.search)
		if res == entities.Match {
			// Longest match so far; remember it for replacement.
			me.codepoint = cp

			_, n := t.input.CurPos()
			me.str.Len += n
			me.prevLen = me.str.Len
		} else if res == entities.NoMore {
			break
		} else {
			_, n := t.input.CurPos()
			me.str.Len += n
		}

		t.input.Advance()
	}

	if err == inputstream.ErrOutOfData {
		return false, nil
	}

	// A semicolon directly after the longest match belongs to it.
	if me.codepoint != 0 && err == nil && r == ';' && me.prevLen == me.str.Len {
		_, n := t.input.CurPos()
		me.prevLen += n
	}

	if rerr := t.input.Rewind(me.str.Len); rerr != nil {
		return false, errors.Wrap(rerr, "tokenizer: rewinding named reference")
	}

	if me.codepoint != 0 {
		// Bytes past prevLen formed no known entity; they stay in the
		// buffer and are reprocessed as data.
		if rerr := t.input.ReplaceRange(me.str.Off, me.prevLen, me.codepoint); rerr != nil {
			return false, errors.Wrap(rerr, "tokenizer: resolving named reference")
		}
	} else {
		t.parseError("unknown named reference")
	}

	me.doneSetup = false
	me.complete = true
	t.state = me.returnState
	return true, nil
}
