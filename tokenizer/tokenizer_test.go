package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clamorhtml/clamor/inputstream"
)

// collected is a token with its spans copied out of the buffer, safe to
// compare after tokenization has moved on.
type collected struct {
	Type    TokenType
	Data    string
	Name    string
	Attrs   [][2]string
	Correct bool
}

func chr(s string) collected  { return collected{Type: TokenCharacter, Data: s} }
func comm(s string) collected { return collected{Type: TokenComment, Data: s} }
func eof() collected          { return collected{Type: TokenEOF} }

func startTag(name string, attrs ...[2]string) collected {
	return collected{Type: TokenStartTag, Name: name, Attrs: attrs}
}

func endTag(name string) collected {
	return collected{Type: TokenEndTag, Name: name}
}

func doctype(name string, correct bool) collected {
	return collected{Type: TokenDoctype, Name: name, Correct: correct}
}

// collect tokenizes input, feeding it in chunk-byte pieces (the whole input
// at once if chunk <= 0) with a Run between chunks. models maps start-tag
// names to the content model the sink installs after them, the way a tree
// builder would. Adjacent character tokens are coalesced.
func collect(t *testing.T, input string, chunk int, models map[string]ContentModel) []collected {
	t.Helper()

	st := inputstream.New()
	tok := New(st)
	defer tok.Close()

	var out []collected
	tok.SetTokenHandler(func(token *Token) {
		c := collected{Type: token.Type}
		switch token.Type {
		case TokenCharacter:
			c.Data = string(st.Bytes(token.Character))
		case TokenComment:
			c.Data = string(st.Bytes(token.Comment))
		case TokenStartTag, TokenEndTag:
			c.Name = string(st.Bytes(token.Tag.Name))
			for _, a := range token.Tag.Attributes {
				c.Attrs = append(c.Attrs, [2]string{
					string(st.Bytes(a.Name)),
					string(st.Bytes(a.Value)),
				})
			}
			if token.Type == TokenStartTag && models != nil {
				if m, ok := models[c.Name]; ok {
					tok.SetContentModel(m)
				}
			}
		case TokenDoctype:
			c.Name = string(st.Bytes(token.Doctype.Name))
			c.Correct = token.Doctype.Correct
		}
		out = append(out, c)
	})

	data := []byte(input)
	if chunk <= 0 {
		chunk = len(data)
	}
	for len(data) > 0 {
		n := chunk
		if n > len(data) {
			n = len(data)
		}
		require.NoError(t, st.Append(data[:n:n]))
		data = data[n:]
		require.NoError(t, tok.Run())
	}
	require.NoError(t, st.AppendEOF())
	require.NoError(t, tok.Run())

	return coalesce(out)
}

func coalesce(in []collected) []collected {
	var out []collected
	for _, c := range in {
		if c.Type == TokenCharacter && len(out) > 0 &&
			out[len(out)-1].Type == TokenCharacter {
			out[len(out)-1].Data += c.Data
			continue
		}
		out = append(out, c)
	}
	return out
}

func TestBasicDocuments(t *testing.T) {
	tests := []struct {
		in   string
		want []collected
	}{
		{"<p>hi</p>", []collected{
			startTag("p"), chr("hi"), endTag("p"), eof(),
		}},
		{`<a href="x&amp;y">z</a>`, []collected{
			startTag("a", [2]string{"href", "x&y"}), chr("z"), endTag("a"), eof(),
		}},
		{"<!DOCTYPE html>", []collected{
			doctype("HTML", true), eof(),
		}},
		{"<!-- a -- b -->", []collected{
			comm(" a -- b "), eof(),
		}},
		{"<X a=1 A=2>", []collected{
			startTag("x", [2]string{"a", "1"}), eof(),
		}},
		{"&#x41;&#65;", []collected{
			chr("AA"), eof(),
		}},
		{"plain text", []collected{
			chr("plain text"), eof(),
		}},
		{"<>", []collected{
			chr("<>"), eof(),
		}},
		{"a<1b", []collected{
			chr("a<1b"), eof(),
		}},
		{"</>x", []collected{
			chr("x"), eof(),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, collect(t, tt.in, 0, nil))
		})
	}
}

func TestAttributes(t *testing.T) {
	tests := []struct {
		in    string
		attrs [][2]string
	}{
		{`<script src='123' onload='test'></script>`, [][2]string{
			{"src", "123"}, {"onload", "test"},
		}},
		{`<script src='123' src='456'></script>`, [][2]string{
			{"src", "123"},
		}},
		{`<script src=123 onload=test></script>`, [][2]string{
			{"src", "123"}, {"onload", "test"},
		}},
		{`<script src></script>`, [][2]string{
			{"src", ""},
		}},
		{`<script src test></script>`, [][2]string{
			{"src", ""}, {"test", ""},
		}},
		{`<script ABC=123></script>`, [][2]string{
			{"abc", "123"},
		}},
		{"<script\tabc=123></script>", [][2]string{
			{"abc", "123"},
		}},
		{`<script 'asd></script>`, [][2]string{
			{"'asd", ""},
		}},
		{`<a b="1" B='2' b=3>`, [][2]string{
			{"b", "1"},
		}},
		{`<a A=1 a=2 c=3>`, [][2]string{
			{"a", "1"}, {"c", "3"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := collect(t, tt.in, 0, nil)
			require.NotEmpty(t, got)
			require.Equal(t, TokenStartTag, got[0].Type)
			assert.Equal(t, tt.attrs, got[0].Attrs)

			// Post-dedup names must be pairwise distinct.
			seen := map[string]bool{}
			for _, a := range got[0].Attrs {
				assert.False(t, seen[a[0]], "duplicate attribute %q survived", a[0])
				seen[a[0]] = true
			}
		})
	}
}

func TestContentModels(t *testing.T) {
	models := map[string]ContentModel{
		"title":     ContentModelRCDATA,
		"script":    ContentModelCDATA,
		"plaintext": ContentModelPlaintext,
	}

	tests := []struct {
		name string
		in   string
		want []collected
	}{
		{"rcdata entities and stray lt", "<title>a<b&amp;</title>x", []collected{
			startTag("title"), chr("a<b&"), endTag("title"), chr("x"), eof(),
		}},
		{"cdata leaves entities alone", "<script>a&amp;<b</i></script>x", []collected{
			startTag("script"), chr("a&amp;<b</i>"), endTag("script"), chr("x"), eof(),
		}},
		{"close tag match is case insensitive", "<title>x</TITLE>y", []collected{
			startTag("title"), chr("x"), endTag("title"), chr("y"), eof(),
		}},
		{"close tag needs a terminator", "<title>a</titles></title>", []collected{
			startTag("title"), chr("a</titles>"), endTag("title"), eof(),
		}},
		{"plaintext swallows everything", "<plaintext>a<b&c", []collected{
			startTag("plaintext"), chr("a<b&c"), eof(),
		}},
		{"unterminated close tag at eof", "<title>x</titl", []collected{
			startTag("title"), chr("x</titl"), eof(),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, collect(t, tt.in, 0, models))
		})
	}
}

func TestComments(t *testing.T) {
	tests := []struct {
		in   string
		want []collected
	}{
		{"<!--x-->", []collected{comm("x"), eof()}},
		{"<!---->", []collected{comm(""), eof()}},
		{"<!--a-b-->", []collected{comm("a-b"), eof()}},
		{"<!--a--->", []collected{comm("a--"), eof()}},
		{"<!--abc", []collected{comm("abc"), eof()}},
		{"<?php?>", []collected{comm("?php?"), eof()}},
		{"<!x>", []collected{comm("x"), eof()}},
		{"<!-x>", []collected{comm("-x"), eof()}},
		{"</3>", []collected{comm("3"), eof()}},
		{"<!DOCTYPZ>", []collected{comm("DOCTYPZ"), eof()}},
		{"<!doctypZ>", []collected{comm("DOCTYPZ"), eof()}},
		{"<!>", []collected{comm(""), eof()}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, collect(t, tt.in, 0, nil))
		})
	}
}

func TestDoctypes(t *testing.T) {
	tests := []struct {
		in   string
		want []collected
	}{
		{"<!DOCTYPE html>", []collected{doctype("HTML", true), eof()}},
		{"<!doctype HTML>", []collected{doctype("HTML", true), eof()}},
		{"<!DoCtYpE hTmL>", []collected{doctype("HTML", true), eof()}},
		{"<!DOCTYPE html >", []collected{doctype("HTML", true), eof()}},
		{"<!DOCTYPE foo>", []collected{doctype("FOO", false), eof()}},
		{"<!DOCTYPE>", []collected{doctype("", false), eof()}},
		{`<!DOCTYPE html PUBLIC "-//W3C//DTD HTML 4.01//EN">`, []collected{
			doctype("HTML", false), eof(),
		}},
		{"<!DOCTYPE html", []collected{doctype("HTML", false), eof()}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, collect(t, tt.in, 0, nil))
		})
	}
}

func TestNumericReferences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"&#65;", "A"},
		{"&#x41;", "A"},
		{"&#X41;", "A"},
		{"&#65 x", "A x"},
		{"&#128;", "€"},
		{"&#x80;", "€"},
		{"&#x9F;", "Ÿ"},
		{"&#x81;", "�"},
		{"&#0;", "�"},
		{"&#1114112;", "�"},
		{"&#x110000;", "�"},
		{"&#x10FFFF;", "\U0010FFFF"},
		{"&#x;", "&#x;"},
		{"&#;", "&#;"},
		{"&#x41", "A"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t,
				[]collected{chr(tt.want), eof()},
				collect(t, tt.in, 0, nil))
		})
	}
}

func TestNamedReferences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"&amp;", "&"},
		{"&amp", "&"},
		{"&ampx", "&x"},
		{"&lt;a&gt;", "<a>"},
		{"&not;", "¬"},
		{"&notin;", "∉"},
		{"&notx", "¬x"},
		{"&nosuchentity;", "&nosuchentity;"},
		{"&;", "&;"},
		{"&", "&"},
		{"&euro;", "€"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t,
				[]collected{chr(tt.want), eof()},
				collect(t, tt.in, 0, nil))
		})
	}
}

func TestReferencesInAttributeValues(t *testing.T) {
	tests := []struct {
		in    string
		attrs [][2]string
	}{
		{`<a b="&lt;x&gt;">`, [][2]string{{"b", "<x>"}}},
		{`<a b='&amp;'>`, [][2]string{{"b", "&"}}},
		{`<a b=&amp;c>`, [][2]string{{"b", "&c"}}},
		{`<a b='&notx'>`, [][2]string{{"b", "¬x"}}},
		{`<a b="&#x2014;">`, [][2]string{{"b", "—"}}},
		{`<a b="&nosuch;">`, [][2]string{{"b", "&nosuch;"}}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := collect(t, tt.in, 0, nil)
			require.NotEmpty(t, got)
			require.Equal(t, TokenStartTag, got[0].Type)
			assert.Equal(t, tt.attrs, got[0].Attrs)
		})
	}
}

// TestResumability feeds the same documents in progressively smaller chunks
// and requires identical token streams (modulo character-run coalescing),
// including chunk boundaries that split UTF-8 sequences and entity names.
func TestResumability(t *testing.T) {
	models := map[string]ContentModel{
		"title":  ContentModelRCDATA,
		"script": ContentModelCDATA,
	}

	docs := []string{
		`<!DOCTYPE html><p class="a&amp;b">héllo<!--c--></p>`,
		"<p a=1 b='2' c=\"3\">héllo &notin; wörld</p>",
		"<title>a&amp;<x</title><script>1<2</script>done",
		"<!-- a -- b --><!DOCTYPZ><?pi?>&#x2014;&ampx",
		"<X a=1 A=2 b=&amp;c>text</X>",
	}

	for _, doc := range docs {
		t.Run(doc, func(t *testing.T) {
			whole := collect(t, doc, 0, models)
			for _, chunk := range []int{1, 2, 3, 7} {
				assert.Equal(t, whole, collect(t, doc, chunk, models),
					"chunk size %d diverged", chunk)
			}
		})
	}
}

func TestParseErrorSink(t *testing.T) {
	tests := []struct {
		in string
	}{
		{"<!--x"},
		{"&#x;"},
		{"</>"},
		{"<?pi?>"},
		{"<!DOCTYPZ>"},
		{"<a b=1 b=2>"},
		{"<!DOCTYPE html PUBLIC>"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			st := inputstream.NewFromString(tt.in)
			tok := New(st)
			defer tok.Close()

			var errs []int
			tok.SetErrorHandler(func(off int, msg string) {
				assert.NotEmpty(t, msg)
				errs = append(errs, off)
			})

			require.NoError(t, tok.Run())
			assert.NotEmpty(t, errs, "expected at least one parse error")
		})
	}
}

// TestCharacterDataInvariant checks that the concatenation of all character
// tokens equals the character data the machine decided on, for inputs where
// that is the whole input.
func TestCharacterDataInvariant(t *testing.T) {
	inputs := []string{
		"just some text",
		"a < b but not a tag? no: < 1",
		"line\nbreaks\tand\vother\fwhitespace",
		"non-ascii: héllo 世界",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			got := collect(t, in, 0, nil)
			require.Len(t, got, 2)
			assert.Equal(t, chr(in), got[0])
			assert.Equal(t, eof(), got[1])
		})
	}
}

// TestStateTransitions drives individual handlers one step and checks the
// state they land in. Only transitions that need no prior scratch state are
// covered here; the flow tests above cover the rest.
func TestStateTransitions(t *testing.T) {
	tests := []struct {
		in    string
		model ContentModel
		start state
		next  state
	}{
		{"<", ContentModelPCDATA, dataState, tagOpenState},
		{"!", ContentModelPCDATA, tagOpenState, markupDeclarationOpenState},
		{"/", ContentModelPCDATA, tagOpenState, closeTagOpenState},
		{"a", ContentModelPCDATA, tagOpenState, tagNameState},
		{"Z", ContentModelPCDATA, tagOpenState, tagNameState},
		{"?", ContentModelPCDATA, tagOpenState, bogusCommentState},
		{"1", ContentModelPCDATA, tagOpenState, dataState},
		{"/", ContentModelRCDATA, tagOpenState, closeTagOpenState},
		{"a", ContentModelRCDATA, tagOpenState, dataState},
		{"a", ContentModelPCDATA, closeTagOpenState, tagNameState},
		{">", ContentModelPCDATA, closeTagOpenState, dataState},
		{"#", ContentModelPCDATA, closeTagOpenState, bogusCommentState},
		{" ", ContentModelPCDATA, tagNameState, beforeAttributeNameState},
		{"/", ContentModelPCDATA, tagNameState, beforeAttributeNameState},
		{">", ContentModelPCDATA, tagNameState, dataState},
		{"-", ContentModelPCDATA, markupDeclarationOpenState, commentStartState},
		{"d", ContentModelPCDATA, markupDeclarationOpenState, matchDoctypeState},
		{"x", ContentModelPCDATA, markupDeclarationOpenState, bogusCommentState},
		{"-", ContentModelPCDATA, commentStartState, commentState},
		{"x", ContentModelPCDATA, commentStartState, bogusCommentState},
		{"-", ContentModelPCDATA, commentState, commentDashState},
		{"-", ContentModelPCDATA, commentDashState, commentEndState},
		{"x", ContentModelPCDATA, commentDashState, commentState},
		{">", ContentModelPCDATA, commentEndState, dataState},
		{"-", ContentModelPCDATA, commentEndState, commentEndState},
		{"x", ContentModelPCDATA, commentEndState, commentState},
		{" ", ContentModelPCDATA, doctypeState, beforeDoctypeNameState},
		{"h", ContentModelPCDATA, beforeDoctypeNameState, doctypeNameState},
		{" ", ContentModelPCDATA, doctypeNameState, afterDoctypeNameState},
		{"x", ContentModelPCDATA, afterDoctypeNameState, bogusDoctypeState},
		{">", ContentModelPCDATA, bogusDoctypeState, dataState},
	}

	for _, tt := range tests {
		st := inputstream.NewFromString(tt.in)
		tok := New(st)
		tok.state = tt.start
		tok.contentModel = tt.model

		_, err := tok.stateToHandler(tok.state)()
		require.NoError(t, err)
		assert.Equal(t, tt.next, tok.state,
			"%q from %v: want %v, got %v", tt.in, tt.start, tt.next, tok.state)

		tok.Close()
	}
}

// TestSuspensionKeepsScratch checks that yielding on out-of-data leaves the
// in-progress token intact: nothing is emitted until the construct closes.
func TestSuspensionKeepsScratch(t *testing.T) {
	st := inputstream.New()
	tok := New(st)
	defer tok.Close()

	var out []collected
	tok.SetTokenHandler(func(token *Token) {
		c := collected{Type: token.Type}
		if token.Type == TokenStartTag {
			c.Name = string(st.Bytes(token.Tag.Name))
			for _, a := range token.Tag.Attributes {
				c.Attrs = append(c.Attrs, [2]string{
					string(st.Bytes(a.Name)),
					string(st.Bytes(a.Value)),
				})
			}
		}
		out = append(out, c)
	})

	require.NoError(t, st.Append([]byte(`<a hre`)))
	require.NoError(t, tok.Run())
	assert.Empty(t, out, "tag emitted before '>'")

	require.NoError(t, st.Append([]byte(`f="x">`)))
	require.NoError(t, tok.Run())
	require.Len(t, out, 1)
	assert.Equal(t, startTag("a", [2]string{"href", "x"}), out[0])
}

func TestRunAfterEOFEmitsEOFAgain(t *testing.T) {
	st := inputstream.NewFromString("x")
	tok := New(st)
	defer tok.Close()

	var types []TokenType
	tok.SetTokenHandler(func(token *Token) {
		types = append(types, token.Type)
	})

	require.NoError(t, tok.Run())
	assert.Equal(t, []TokenType{TokenCharacter, TokenEOF}, types)

	// The terminated stream stays at EOF; re-running just reports it again.
	require.NoError(t, tok.Run())
	assert.Equal(t, []TokenType{TokenCharacter, TokenEOF, TokenEOF}, types)
}
