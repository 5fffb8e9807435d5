package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/reflow/truncate"
	"golang.org/x/term"

	"github.com/clamorhtml/clamor/inputstream"
	"github.com/clamorhtml/clamor/tokenizer"
)

// styles contains the renderers for token-dump output.
type styles struct {
	Kind      lipgloss.Style
	TagName   lipgloss.Style
	AttrName  lipgloss.Style
	AttrValue lipgloss.Style
	Data      lipgloss.Style
	Bad       lipgloss.Style
	Dim       lipgloss.Style
}

func newStyles(colorOn bool) *styles {
	if !colorOn {
		plain := lipgloss.NewStyle()
		return &styles{
			Kind: plain, TagName: plain, AttrName: plain,
			AttrValue: plain, Data: plain, Bad: plain, Dim: plain,
		}
	}
	return &styles{
		Kind:      lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		TagName:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		AttrName:  lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		AttrValue: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Data:      lipgloss.NewStyle(),
		Bad:       lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

func colorEnabled(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return isatty.IsTerminal(os.Stdout.Fd()) ||
			isatty.IsCygwinTerminal(os.Stdout.Fd())
	}
}

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 100
	}
	return w
}

// renderToken formats a single token on one line. Spans are copied out of
// the stream here, so the result stays valid after the buffer moves.
func (s *styles) renderToken(stream *inputstream.Stream, tok *tokenizer.Token, width int) string {
	var b strings.Builder

	kind := fmt.Sprintf("%-10s", tok.Type)
	b.WriteString(s.Kind.Render(kind))
	b.WriteString(" ")

	switch tok.Type {
	case tokenizer.TokenCharacter:
		data := strconv.Quote(string(stream.Bytes(tok.Character)))
		b.WriteString(s.Data.Render(clip(data, width-12)))
	case tokenizer.TokenComment:
		data := strconv.Quote(string(stream.Bytes(tok.Comment)))
		b.WriteString(s.Dim.Render(clip(data, width-12)))
	case tokenizer.TokenStartTag, tokenizer.TokenEndTag:
		b.WriteString(s.Dim.Render("<"))
		if tok.Type == tokenizer.TokenEndTag {
			b.WriteString(s.Dim.Render("/"))
		}
		b.WriteString(s.TagName.Render(string(stream.Bytes(tok.Tag.Name))))
		for _, a := range tok.Tag.Attributes {
			b.WriteString(" ")
			b.WriteString(s.AttrName.Render(string(stream.Bytes(a.Name))))
			b.WriteString(s.Dim.Render("="))
			b.WriteString(s.AttrValue.Render(strconv.Quote(string(stream.Bytes(a.Value)))))
		}
		b.WriteString(s.Dim.Render(">"))
	case tokenizer.TokenDoctype:
		b.WriteString(s.TagName.Render(string(stream.Bytes(tok.Doctype.Name))))
		if tok.Doctype.Correct {
			b.WriteString(s.Dim.Render(" (correct)"))
		} else {
			b.WriteString(s.Bad.Render(" (not correct)"))
		}
	case tokenizer.TokenEOF:
		// Nothing beyond the kind column.
	}

	return b.String()
}

func clip(s string, width int) string {
	if width < 16 {
		width = 16
	}
	return truncate.StringWithTail(s, uint(width), "…")
}
