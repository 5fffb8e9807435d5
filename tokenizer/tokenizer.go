// Package tokenizer implements the HTML5 tokenization state machine. It
// consumes code points from an inputstream.Stream, recognizes character
// runs, tags, comments and doctypes, and hands finished tokens to a
// registered sink. Malformed input is recovered from per the HTML5 parse
// error rules; tokenization never halts on bad markup.
//
// The machine is resumable: whenever the stream runs out of data
// mid-construct, Run returns with all scratch state intact and picks up
// exactly where it left off once more input has been appended.
package tokenizer

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/clamorhtml/clamor/inputstream"
)

// ContentModel selects how character data is interpreted. The driver sets it
// between tokens based on element-specific rules (e.g. after <script> or
// <title>); a matched close tag in RCDATA/CDATA resets it to PCDATA.
type ContentModel uint

const (
	ContentModelPCDATA ContentModel = iota
	ContentModelRCDATA
	ContentModelCDATA
	ContentModelPlaintext
)

// TokenHandler receives each emitted token exactly once.
type TokenHandler func(tok *Token)

// BufferHandler observes input buffer relocations, relayed from the stream.
type BufferHandler func(buf []byte)

// ErrorHandler receives parse errors with the byte offset of the offending
// input. Parse errors are informational; tokenization continues.
type ErrorHandler func(off int, msg string)

//go:generate stringer -type=state
type state uint

const (
	dataState state = iota
	entityDataState
	tagOpenState
	closeTagOpenState
	closeTagMatchState
	tagNameState
	beforeAttributeNameState
	attributeNameState
	afterAttributeNameState
	beforeAttributeValueState
	attributeValueDoubleQuotedState
	attributeValueSingleQuotedState
	attributeValueUnquotedState
	entityInAttributeValueState
	bogusCommentState
	markupDeclarationOpenState
	commentStartState
	commentState
	commentDashState
	commentEndState
	matchDoctypeState
	doctypeState
	beforeDoctypeNameState
	doctypeNameState
	afterDoctypeNameState
	bogusDoctypeState
	numberedEntityState
	namedEntityState
)

var stateNames = [...]string{
	"data", "entity-data", "tag-open", "close-tag-open", "close-tag-match",
	"tag-name", "before-attribute-name", "attribute-name",
	"after-attribute-name", "before-attribute-value", "attribute-value-dq",
	"attribute-value-sq", "attribute-value-uq", "entity-in-attribute-value",
	"bogus-comment", "markup-declaration-open", "comment-start", "comment",
	"comment-dash", "comment-end", "match-doctype", "doctype",
	"before-doctype-name", "doctype-name", "after-doctype-name",
	"bogus-doctype", "numbered-entity", "named-entity",
}

func (s state) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Tokenizer drives the state machine over an input stream.
type Tokenizer struct {
	state        state
	contentModel ContentModel
	input        *inputstream.Stream

	ctx context

	tokenHandler  TokenHandler
	bufferHandler BufferHandler
	errorHandler  ErrorHandler

	moveID int
	log    logrus.FieldLogger
}

// New creates a tokenizer over input, starting in the data state with the
// PCDATA content model.
func New(input *inputstream.Stream) *Tokenizer {
	t := &Tokenizer{
		state:        dataState,
		contentModel: ContentModelPCDATA,
		input:        input,
		log:          logrus.WithField("component", "tokenizer"),
	}
	t.moveID = input.RegisterMoveHandler(t.bufferMoved)
	return t
}

// Close deregisters the tokenizer from the stream's move notifications.
func (t *Tokenizer) Close() {
	t.input.DeregisterMoveHandler(t.moveID)
}

// SetTokenHandler installs the token sink.
func (t *Tokenizer) SetTokenHandler(h TokenHandler) {
	t.tokenHandler = h
}

// SetBufferHandler installs a buffer-move observer. It is invoked
// immediately with the current buffer.
func (t *Tokenizer) SetBufferHandler(h BufferHandler) {
	t.bufferHandler = h
	if h != nil {
		h(t.input.Range(0, t.input.Len()))
	}
}

// SetErrorHandler installs the parse-error sink.
func (t *Tokenizer) SetErrorHandler(h ErrorHandler) {
	t.errorHandler = h
}

// SetContentModel switches the content model. Callers do this between
// tokens only.
func (t *Tokenizer) SetContentModel(m ContentModel) {
	t.contentModel = m
}

// Run drives the state machine until the stream runs out of data or is
// exhausted. It returns nil in both cases; after appending more input the
// caller may invoke Run again and tokenization resumes mid-construct. A
// non-nil error is fatal and Run must not be re-invoked.
func (t *Tokenizer) Run() error {
	for {
		cont, err := t.stateToHandler(t.state)()
		if err != nil {
			return err
		}
		t.log.WithField("state", t.state).Trace("step")
		if !cont {
			return nil
		}
	}
}

type stateHandler func() (bool, error)

func (t *Tokenizer) stateToHandler(s state) stateHandler {
	switch s {
	case dataState:
		return t.handleData
	case entityDataState:
		return t.handleEntityData
	case tagOpenState:
		return t.handleTagOpen
	case closeTagOpenState:
		return t.handleCloseTagOpen
	case closeTagMatchState:
		return t.handleCloseTagMatch
	case tagNameState:
		return t.handleTagName
	case beforeAttributeNameState:
		return t.handleBeforeAttributeName
	case attributeNameState:
		return t.handleAttributeName
	case afterAttributeNameState:
		return t.handleAfterAttributeName
	case beforeAttributeValueState:
		return t.handleBeforeAttributeValue
	case attributeValueDoubleQuotedState:
		return t.handleAttributeValueDQ
	case attributeValueSingleQuotedState:
		return t.handleAttributeValueSQ
	case attributeValueUnquotedState:
		return t.handleAttributeValueUQ
	case entityInAttributeValueState:
		return t.handleEntityInAttributeValue
	case bogusCommentState:
		return t.handleBogusComment
	case markupDeclarationOpenState:
		return t.handleMarkupDeclarationOpen
	case commentStartState:
		return t.handleCommentStart
	case commentState:
		return t.handleComment
	case commentDashState:
		return t.handleCommentDash
	case commentEndState:
		return t.handleCommentEnd
	case matchDoctypeState:
		return t.handleMatchDoctype
	case doctypeState:
		return t.handleDoctype
	case beforeDoctypeNameState:
		return t.handleBeforeDoctypeName
	case doctypeNameState:
		return t.handleDoctypeName
	case afterDoctypeNameState:
		return t.handleAfterDoctypeName
	case bogusDoctypeState:
		return t.handleBogusDoctype
	case numberedEntityState:
		return t.handleNumberedEntity
	case namedEntityState:
		return t.handleNamedEntity
	}
	return nil
}

func isWhitespace(r rune) bool {
	return r == '\t' || r == '\n' || r == '\v' || r == '\f' || r == ' '
}

func (t *Tokenizer) parseError(msg string) {
	if t.errorHandler != nil {
		off, _ := t.input.CurPos()
		t.errorHandler(off, msg)
	}
}

func (t *Tokenizer) handleData() (bool, error) {
	t.ctx.currentChars = inputstream.Span{}

	var r rune
	var err error
	for {
		r, err = t.input.Peek()
		if err != nil {
			break
		}

		if r == '&' && (t.contentModel == ContentModelPCDATA ||
			t.contentModel == ContentModelRCDATA) {
			// Don't eat the '&'; entity consumption handles it.
			t.state = entityDataState
			break
		} else if r == '<' && t.contentModel != ContentModelPlaintext {
			if t.ctx.currentChars.Len > 0 {
				t.emitCharacters(t.ctx.currentChars)
			}

			// Buffer the '<' so a failed tag open can re-emit it.
			off, n := t.input.CurPos()
			t.ctx.currentChars = inputstream.Span{Off: off, Len: n}

			t.state = tagOpenState
			t.input.Advance()
			break
		}

		off, n := t.input.CurPos()
		if t.ctx.currentChars.Len == 0 {
			t.ctx.currentChars.Off = off
		}
		t.ctx.currentChars.Len += n
		t.input.Advance()
	}

	if t.state != tagOpenState && t.ctx.currentChars.Len > 0 {
		t.emitCharacters(t.ctx.currentChars)
		t.ctx.currentChars = inputstream.Span{}
	}

	if err == io.EOF {
		t.emit(&Token{Type: TokenEOF})
	}

	return err == nil, nil
}

func (t *Tokenizer) handleEntityData() (bool, error) {
	if !t.ctx.matchEntity.complete {
		return t.consumeEntity()
	}

	_, err := t.input.Peek()
	if err != nil {
		// The consumer left nothing under the cursor. Recoverable: wait
		// for more data, or hand EOF back to the data state.
		if err == io.EOF {
			t.ctx.matchEntity.complete = false
			t.state = dataState
			return true, nil
		}
		return false, nil
	}

	off, n := t.input.CurPos()
	t.emitCharacters(inputstream.Span{Off: off, Len: n})

	t.ctx.matchEntity.complete = false
	t.state = dataState
	t.input.Advance()
	return true, nil
}

func (t *Tokenizer) handleTagOpen() (bool, error) {
	ctag := &t.ctx.currentTag

	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	if t.contentModel == ContentModelRCDATA ||
		t.contentModel == ContentModelCDATA {
		if !eof && r == '/' {
			_, n := t.input.CurPos()
			t.ctx.currentChars.Len += n
			t.state = closeTagOpenState
			t.input.Advance()
		} else {
			// Not a close tag; '<' is data after all.
			t.emitCharacters(t.ctx.currentChars)
			t.state = dataState
		}
		return true, nil
	}

	switch {
	case !eof && r == '!':
		_, n := t.input.CurPos()
		t.ctx.currentChars.Len += n
		t.state = markupDeclarationOpenState
		t.input.Advance()
	case !eof && r == '/':
		_, n := t.input.CurPos()
		t.ctx.currentChars.Len += n
		t.state = closeTagOpenState
		t.input.Advance()
	case !eof && 'A' <= r && r <= 'Z':
		t.input.Lowercase()
		t.ctx.currentTagType = TokenStartTag
		off, n := t.input.CurPos()
		ctag.Name = inputstream.Span{Off: off, Len: n}
		ctag.Attributes = ctag.Attributes[:0]
		t.state = tagNameState
		t.input.Advance()
	case !eof && 'a' <= r && r <= 'z':
		t.ctx.currentTagType = TokenStartTag
		off, n := t.input.CurPos()
		ctag.Name = inputstream.Span{Off: off, Len: n}
		ctag.Attributes = ctag.Attributes[:0]
		t.state = tagNameState
		t.input.Advance()
	case !eof && r == '>':
		_, n := t.input.CurPos()
		t.ctx.currentChars.Len += n
		t.parseError("empty tag")
		t.emitCharacters(t.ctx.currentChars)
		t.state = dataState
		t.input.Advance()
	case !eof && r == '?':
		off, n := t.input.CurPos()
		t.ctx.currentChars.Len += n
		t.ctx.currentComment = inputstream.Span{Off: off, Len: n}
		t.parseError("processing instruction treated as bogus comment")
		t.state = bogusCommentState
		t.input.Advance()
	default:
		// Including EOF: the '<' reverts to character data.
		t.emitCharacters(t.ctx.currentChars)
		t.state = dataState
	}

	return true, nil
}

func (t *Tokenizer) handleCloseTagOpen() (bool, error) {
	if t.contentModel == ContentModelRCDATA ||
		t.contentModel == ContentModelCDATA {
		t.ctx.closeTagMatch.tag = inputstream.Span{}
		t.state = closeTagMatchState
		return true, nil
	}

	ctag := &t.ctx.currentTag

	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	switch {
	case !eof && 'A' <= r && r <= 'Z':
		t.input.Lowercase()
		off, n := t.input.CurPos()
		t.ctx.currentTagType = TokenEndTag
		ctag.Name = inputstream.Span{Off: off, Len: n}
		ctag.Attributes = ctag.Attributes[:0]
		t.state = tagNameState
		t.input.Advance()
	case !eof && 'a' <= r && r <= 'z':
		off, n := t.input.CurPos()
		t.ctx.currentTagType = TokenEndTag
		ctag.Name = inputstream.Span{Off: off, Len: n}
		ctag.Attributes = ctag.Attributes[:0]
		t.state = tagNameState
		t.input.Advance()
	case !eof && r == '>':
		// Empty end tag: discarded silently.
		t.parseError("empty end tag")
		t.state = dataState
		t.input.Advance()
	case eof:
		// Emit "</" as characters.
		t.parseError("eof in end tag")
		t.emitCharacters(t.ctx.currentChars)
		t.state = dataState
	default:
		off, n := t.input.CurPos()
		t.ctx.currentComment = inputstream.Span{Off: off, Len: n}
		t.parseError("malformed end tag treated as bogus comment")
		t.state = bogusCommentState
		t.input.Advance()
	}

	return true, nil
}

// handleCloseTagMatch runs only in RCDATA/CDATA. It consumes up to
// len(current tag name) bytes, comparing case-insensitively against the tag
// name that switched the content model; any divergence rewinds and reverts
// "</" to character data. A full match must be followed by whitespace, '>',
// '/', '<' or EOF, after which the content model drops back to PCDATA and
// the close tag is re-read by the regular PCDATA path.
func (t *Tokenizer) handleCloseTagMatch() (bool, error) {
	ctx := &t.ctx
	ctag := &t.ctx.currentTag

	var r rune
	var err error
	for ctx.closeTagMatch.tag.Len < ctag.Name.Len {
		r, err = t.input.Peek()
		if err != nil {
			break
		}

		off, n := t.input.CurPos()
		if ctx.closeTagMatch.tag.Len == 0 {
			ctx.closeTagMatch.tag = inputstream.Span{Off: off, Len: n}
		} else {
			ctx.closeTagMatch.tag.Len += n
		}

		t.input.Advance()

		if ctx.closeTagMatch.tag.Len > ctag.Name.Len ||
			(ctx.closeTagMatch.tag.Len == ctag.Name.Len &&
				t.input.CompareRangeCI(ctag.Name.Off,
					ctx.closeTagMatch.tag.Off, ctag.Name.Len) != 0) {
			if rerr := t.input.Rewind(ctx.closeTagMatch.tag.Len); rerr != nil {
				return false, errors.Wrap(rerr, "tokenizer: undoing close tag match")
			}

			t.parseError("close tag does not match open tag")
			t.emitCharacters(ctx.currentChars)
			t.state = dataState
			return true, nil
		} else if ctx.closeTagMatch.tag.Len == ctag.Name.Len {
			// Matched; stop searching.
			break
		}
	}

	if err == inputstream.ErrOutOfData {
		return false, nil
	}

	if err == io.EOF {
		if rerr := t.input.Rewind(ctx.closeTagMatch.tag.Len); rerr != nil {
			return false, errors.Wrap(rerr, "tokenizer: undoing close tag match")
		}

		t.parseError("eof in close tag")
		t.emitCharacters(ctx.currentChars)
		t.state = dataState
		return true, nil
	}

	// Match the following character.
	r, err = t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}

	if rerr := t.input.Rewind(ctx.closeTagMatch.tag.Len); rerr != nil {
		return false, errors.Wrap(rerr, "tokenizer: undoing close tag match")
	}

	if err != io.EOF && !isWhitespace(r) && r != '>' && r != '/' && r != '<' {
		t.parseError("close tag not terminated")
		t.emitCharacters(ctx.currentChars)
		t.state = dataState
		return true, nil
	}

	t.contentModel = ContentModelPCDATA
	t.state = closeTagOpenState
	return true, nil
}

func (t *Tokenizer) handleTagName() (bool, error) {
	ctag := &t.ctx.currentTag

	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	switch {
	case !eof && isWhitespace(r):
		t.state = beforeAttributeNameState
		t.input.Advance()
	case !eof && r == '>':
		t.emitCurrentTag()
		t.state = dataState
		t.input.Advance()
	case !eof && 'A' <= r && r <= 'Z':
		t.input.Lowercase()
		_, n := t.input.CurPos()
		ctag.Name.Len += n
		t.input.Advance()
	case eof || r == '<':
		t.emitCurrentTag()
		t.state = dataState
	case r == '/':
		// TODO: permitted slash; the self-closing flag is never set here.
		t.state = beforeAttributeNameState
		t.input.Advance()
	default:
		_, n := t.input.CurPos()
		ctag.Name.Len += n
		t.input.Advance()
	}

	return true, nil
}

func (t *Tokenizer) handleBeforeAttributeName() (bool, error) {
	ctag := &t.ctx.currentTag

	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	switch {
	case !eof && isWhitespace(r):
		t.input.Advance()
	case !eof && r == '>':
		t.emitCurrentTag()
		t.state = dataState
		t.input.Advance()
	case !eof && 'A' <= r && r <= 'Z':
		t.input.Lowercase()
		off, n := t.input.CurPos()
		ctag.Attributes = append(ctag.Attributes, Attribute{
			Name: inputstream.Span{Off: off, Len: n},
		})
		t.state = attributeNameState
		t.input.Advance()
	case !eof && r == '/':
		// TODO: permitted slash
		t.input.Advance()
	case eof || r == '<':
		t.emitCurrentTag()
		t.state = dataState
	default:
		off, n := t.input.CurPos()
		ctag.Attributes = append(ctag.Attributes, Attribute{
			Name: inputstream.Span{Off: off, Len: n},
		})
		t.state = attributeNameState
		t.input.Advance()
	}

	return true, nil
}

func (t *Tokenizer) handleAttributeName() (bool, error) {
	ctag := &t.ctx.currentTag

	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	switch {
	case !eof && isWhitespace(r):
		t.state = afterAttributeNameState
		t.input.Advance()
	case !eof && r == '=':
		t.state = beforeAttributeValueState
		t.input.Advance()
	case !eof && r == '>':
		t.emitCurrentTag()
		t.state = dataState
		t.input.Advance()
	case !eof && 'A' <= r && r <= 'Z':
		t.input.Lowercase()
		_, n := t.input.CurPos()
		ctag.Attributes[len(ctag.Attributes)-1].Name.Len += n
		t.input.Advance()
	case !eof && r == '/':
		// TODO: permitted slash
		t.state = beforeAttributeNameState
		t.input.Advance()
	case eof || r == '<':
		t.emitCurrentTag()
		t.state = dataState
	default:
		_, n := t.input.CurPos()
		ctag.Attributes[len(ctag.Attributes)-1].Name.Len += n
		t.input.Advance()
	}

	return true, nil
}

func (t *Tokenizer) handleAfterAttributeName() (bool, error) {
	ctag := &t.ctx.currentTag

	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	switch {
	case !eof && isWhitespace(r):
		t.input.Advance()
	case !eof && r == '=':
		t.state = beforeAttributeValueState
		t.input.Advance()
	case !eof && r == '>':
		t.emitCurrentTag()
		t.state = dataState
		t.input.Advance()
	case !eof && 'A' <= r && r <= 'Z':
		t.input.Lowercase()
		off, n := t.input.CurPos()
		ctag.Attributes = append(ctag.Attributes, Attribute{
			Name: inputstream.Span{Off: off, Len: n},
		})
		t.state = attributeNameState
		t.input.Advance()
	case !eof && r == '/':
		// TODO: permitted slash
		t.state = beforeAttributeNameState
		t.input.Advance()
	case eof || r == '<':
		t.emitCurrentTag()
		t.state = dataState
	default:
		off, n := t.input.CurPos()
		ctag.Attributes = append(ctag.Attributes, Attribute{
			Name: inputstream.Span{Off: off, Len: n},
		})
		t.state = attributeNameState
		t.input.Advance()
	}

	return true, nil
}

func (t *Tokenizer) handleBeforeAttributeValue() (bool, error) {
	ctag := &t.ctx.currentTag

	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	switch {
	case !eof && isWhitespace(r):
		t.input.Advance()
	case !eof && r == '"':
		t.state = attributeValueDoubleQuotedState
		t.input.Advance()
	case !eof && r == '&':
		// Don't eat the '&'; the unquoted handler dispatches it.
		t.state = attributeValueUnquotedState
	case !eof && r == '\'':
		t.state = attributeValueSingleQuotedState
		t.input.Advance()
	case !eof && r == '>':
		t.emitCurrentTag()
		t.state = dataState
		t.input.Advance()
	case eof || r == '<':
		t.emitCurrentTag()
		t.state = dataState
	default:
		off, n := t.input.CurPos()
		ctag.Attributes[len(ctag.Attributes)-1].Value = inputstream.Span{Off: off, Len: n}
		t.state = attributeValueUnquotedState
		t.input.Advance()
	}

	return true, nil
}

func (t *Tokenizer) handleAttributeValueDQ() (bool, error) {
	ctag := &t.ctx.currentTag

	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	switch {
	case !eof && r == '"':
		t.state = beforeAttributeNameState
		t.input.Advance()
	case !eof && r == '&':
		t.ctx.prevState = t.state
		t.state = entityInAttributeValueState
		// Don't eat the '&'; entity consumption handles it.
	case eof:
		t.parseError("eof in attribute value")
		t.emitCurrentTag()
		t.state = dataState
	default:
		off, n := t.input.CurPos()
		val := &ctag.Attributes[len(ctag.Attributes)-1].Value
		if val.Len == 0 {
			val.Off = off
		}
		val.Len += n
		t.input.Advance()
	}

	return true, nil
}

func (t *Tokenizer) handleAttributeValueSQ() (bool, error) {
	ctag := &t.ctx.currentTag

	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	switch {
	case !eof && r == '\'':
		t.state = beforeAttributeNameState
		t.input.Advance()
	case !eof && r == '&':
		t.ctx.prevState = t.state
		t.state = entityInAttributeValueState
	case eof:
		t.parseError("eof in attribute value")
		t.emitCurrentTag()
		t.state = dataState
	default:
		off, n := t.input.CurPos()
		val := &ctag.Attributes[len(ctag.Attributes)-1].Value
		if val.Len == 0 {
			val.Off = off
		}
		val.Len += n
		t.input.Advance()
	}

	return true, nil
}

func (t *Tokenizer) handleAttributeValueUQ() (bool, error) {
	ctag := &t.ctx.currentTag

	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	switch {
	case !eof && isWhitespace(r):
		t.state = beforeAttributeNameState
		t.input.Advance()
	case !eof && r == '&':
		t.ctx.prevState = t.state
		t.state = entityInAttributeValueState
	case !eof && r == '>':
		t.emitCurrentTag()
		t.state = dataState
		t.input.Advance()
	case eof || r == '<':
		t.emitCurrentTag()
		t.state = dataState
	default:
		off, n := t.input.CurPos()
		val := &ctag.Attributes[len(ctag.Attributes)-1].Value
		if val.Len == 0 {
			val.Off = off
		}
		val.Len += n
		t.input.Advance()
	}

	return true, nil
}

func (t *Tokenizer) handleEntityInAttributeValue() (bool, error) {
	if !t.ctx.matchEntity.complete {
		return t.consumeEntity()
	}

	ctag := &t.ctx.currentTag

	_, err := t.input.Peek()
	if err != nil {
		// Recoverable: suspend on OOD, hand EOF back to the value state.
		if err == io.EOF {
			t.ctx.matchEntity.complete = false
			t.state = t.ctx.prevState
			return true, nil
		}
		return false, nil
	}

	off, n := t.input.CurPos()
	val := &ctag.Attributes[len(ctag.Attributes)-1].Value
	if val.Len == 0 {
		val.Off = off
	}
	val.Len += n

	t.ctx.matchEntity.complete = false
	t.state = t.ctx.prevState
	t.input.Advance()
	return true, nil
}

func (t *Tokenizer) handleBogusComment() (bool, error) {
	var err error
	for {
		var r rune
		r, err = t.input.Peek()
		if err != nil {
			break
		}

		if r == '>' {
			t.input.Advance()
			break
		}

		off, n := t.input.CurPos()
		if t.ctx.currentComment.Len == 0 {
			t.ctx.currentComment.Off = off
		}
		t.ctx.currentComment.Len += n
		t.input.Advance()
	}

	if err == inputstream.ErrOutOfData {
		return false, nil
	}

	t.emitComment()
	t.state = dataState
	return true, nil
}

func (t *Tokenizer) handleMarkupDeclarationOpen() (bool, error) {
	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	switch {
	case !eof && r == '-':
		t.state = commentStartState
		t.input.Advance()
	case !eof && (r&^0x20) == 'D':
		t.input.Uppercase()
		t.ctx.matchDoctype.count = 1
		t.state = matchDoctypeState
		t.input.Advance()
	default:
		t.ctx.currentComment = inputstream.Span{}
		t.parseError("malformed markup declaration")
		t.state = bogusCommentState
	}

	return true, nil
}

func (t *Tokenizer) handleCommentStart() (bool, error) {
	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	t.ctx.currentComment = inputstream.Span{}

	if !eof && r == '-' {
		t.state = commentState
		t.input.Advance()
	} else {
		// "<!-" wasn't a comment opener; replay the dash into the bogus
		// comment body.
		t.input.PushBack('-')
		t.parseError("malformed comment opener")
		t.state = bogusCommentState
	}

	return true, nil
}

func (t *Tokenizer) handleComment() (bool, error) {
	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	switch {
	case !eof && r == '-':
		t.state = commentDashState
		t.input.Advance()
	case eof:
		t.parseError("eof in comment")
		t.emitComment()
		t.state = dataState
	default:
		off, n := t.input.CurPos()
		if t.ctx.currentComment.Len == 0 {
			t.ctx.currentComment.Off = off
		}
		t.ctx.currentComment.Len += n
		t.input.Advance()
	}

	return true, nil
}

func (t *Tokenizer) handleCommentDash() (bool, error) {
	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	switch {
	case !eof && r == '-':
		t.state = commentEndState
		t.input.Advance()
	case eof:
		t.parseError("eof in comment")
		t.emitComment()
		t.state = dataState
	default:
		off, n := t.input.CurPos()
		if t.ctx.currentComment.Len == 0 {
			t.ctx.currentComment.Off = off
			t.ctx.currentComment.Len = n
		} else {
			// Extend over the skipped '-' as well.
			t.ctx.currentComment.Len = n + off - t.ctx.currentComment.Off
		}
		t.state = commentState
		t.input.Advance()
	}

	return true, nil
}

func (t *Tokenizer) handleCommentEnd() (bool, error) {
	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	switch {
	case !eof && r == '>':
		t.emitComment()
		t.state = dataState
		t.input.Advance()
	case !eof && r == '-':
		// The first of the pending dashes joins the body; the current one
		// stays pending.
		off, n := t.input.CurPos()
		if t.ctx.currentComment.Len == 0 {
			t.ctx.currentComment = inputstream.Span{Off: off, Len: n}
		} else {
			t.ctx.currentComment.Len = off - t.ctx.currentComment.Off
		}
		t.input.Advance()
	case eof:
		t.parseError("eof in comment")
		t.emitComment()
		t.state = dataState
	default:
		// Both pending dashes and the current character join the body.
		off, n := t.input.CurPos()
		if t.ctx.currentComment.Len == 0 {
			t.ctx.currentComment.Off = off
			t.ctx.currentComment.Len = n
		} else {
			t.ctx.currentComment.Len = n + off - t.ctx.currentComment.Off
		}
		t.state = commentState
		t.input.Advance()
	}

	return true, nil
}

const doctypeLiteral = "DOCTYPE"

func (t *Tokenizer) handleMatchDoctype() (bool, error) {
	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	count := t.ctx.matchDoctype.count
	if !eof && (r&^0x20) == rune(doctypeLiteral[count]) {
		t.input.Uppercase()
		if count == len(doctypeLiteral)-1 {
			t.state = doctypeState
		} else {
			t.ctx.matchDoctype.count++
		}
		t.input.Advance()
		return true, nil
	}

	// Mismatch: replay the matched prefix into a bogus comment.
	for i := count; i > 0; i-- {
		t.input.PushBack(doctypeLiteral[i-1])
	}

	t.ctx.currentComment = inputstream.Span{}
	t.parseError("malformed DOCTYPE")
	t.state = bogusCommentState
	return true, nil
}

func (t *Tokenizer) handleDoctype() (bool, error) {
	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}

	if err == nil && isWhitespace(r) {
		t.input.Advance()
	}

	t.state = beforeDoctypeNameState
	return true, nil
}

func (t *Tokenizer) handleBeforeDoctypeName() (bool, error) {
	cdoc := &t.ctx.currentDoctype

	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	switch {
	case !eof && isWhitespace(r):
		t.input.Advance()
	case !eof && 'a' <= r && r <= 'z':
		t.input.Uppercase()
		off, n := t.input.CurPos()
		cdoc.Name = inputstream.Span{Off: off, Len: n}
		cdoc.Correct = false
		t.state = doctypeNameState
		t.input.Advance()
	case !eof && r == '>':
		t.emitDoctype(false)
		t.state = dataState
		t.input.Advance()
	case eof:
		t.parseError("eof in DOCTYPE")
		t.emitDoctype(false)
		t.state = dataState
	default:
		off, n := t.input.CurPos()
		cdoc.Name = inputstream.Span{Off: off, Len: n}
		cdoc.Correct = false
		t.state = doctypeNameState
		t.input.Advance()
	}

	return true, nil
}

func (t *Tokenizer) handleDoctypeName() (bool, error) {
	cdoc := &t.ctx.currentDoctype

	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	switch {
	case !eof && isWhitespace(r):
		t.state = afterDoctypeNameState
		t.input.Advance()
	case !eof && r == '>':
		t.emitDoctype(true)
		t.state = dataState
		t.input.Advance()
	case !eof && 'a' <= r && r <= 'z':
		t.input.Uppercase()
		_, n := t.input.CurPos()
		cdoc.Name.Len += n
		t.input.Advance()
	case eof:
		t.parseError("eof in DOCTYPE")
		t.emitDoctype(false)
		t.state = dataState
	default:
		_, n := t.input.CurPos()
		cdoc.Name.Len += n
		t.input.Advance()
	}

	return true, nil
}

func (t *Tokenizer) handleAfterDoctypeName() (bool, error) {
	cdoc := &t.ctx.currentDoctype

	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	switch {
	case !eof && isWhitespace(r):
		t.input.Advance()
	case !eof && r == '>':
		t.emitDoctype(true)
		t.state = dataState
		t.input.Advance()
	case eof:
		t.parseError("eof in DOCTYPE")
		t.emitDoctype(false)
		t.state = dataState
	default:
		cdoc.Correct = false
		t.parseError("junk after DOCTYPE name")
		t.state = bogusDoctypeState
		t.input.Advance()
	}

	return true, nil
}

func (t *Tokenizer) handleBogusDoctype() (bool, error) {
	r, err := t.input.Peek()
	if err == inputstream.ErrOutOfData {
		return false, nil
	}
	eof := err == io.EOF

	switch {
	case !eof && r == '>':
		t.emitDoctype(false)
		t.state = dataState
		t.input.Advance()
	case eof:
		t.emitDoctype(false)
		t.state = dataState
	default:
		t.input.Advance()
	}

	return true, nil
}

func (t *Tokenizer) emitCharacters(sp inputstream.Span) {
	t.emit(&Token{Type: TokenCharacter, Character: sp})
}

func (t *Tokenizer) emitCurrentTag() {
	t.emit(&Token{Type: t.ctx.currentTagType, Tag: t.ctx.currentTag})
}

func (t *Tokenizer) emitComment() {
	t.emit(&Token{Type: TokenComment, Comment: t.ctx.currentComment})
}

// emitDoctype emits the current doctype. When checkName is set, Correct is
// recomputed from the collected (uppercased) name; EOF paths emit with
// whatever correctness the scratch already holds.
func (t *Tokenizer) emitDoctype(checkName bool) {
	d := t.ctx.currentDoctype
	if checkName {
		d.Correct = t.input.CompareRangeASCII(d.Name.Off, d.Name.Len, "HTML") == 0
	}
	t.emit(&Token{Type: TokenDoctype, Doctype: d})
}

// emit finalizes a token and delivers it to the sink. Start and end tags
// have duplicate attributes discarded first: names are compared
// case-sensitively and the first occurrence wins, order preserved.
func (t *Tokenizer) emit(tok *Token) {
	if tok.Type == TokenStartTag || tok.Type == TokenEndTag {
		attrs := tok.Tag.Attributes
		for i := 0; i < len(attrs); i++ {
			for j := i + 1; j < len(attrs); j++ {
				if attrs[i].Name.Len != attrs[j].Name.Len ||
					t.input.CompareRangeCS(attrs[i].Name.Off,
						attrs[j].Name.Off, attrs[i].Name.Len) != 0 {
					continue
				}

				t.parseError("duplicate attribute")
				copy(attrs[j:], attrs[j+1:])
				attrs = attrs[:len(attrs)-1]
				j--
			}
		}
		tok.Tag.Attributes = attrs
	}

	if t.tokenHandler == nil {
		return
	}
	t.tokenHandler(tok)
}

func (t *Tokenizer) bufferMoved(buf []byte) {
	if t.bufferHandler != nil {
		t.bufferHandler(buf)
	}
}
