package cli

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/clamorhtml/clamor/inputstream"
	"github.com/clamorhtml/clamor/tokenizer"
)

var contentModels = map[string]tokenizer.ContentModel{
	"pcdata":    tokenizer.ContentModelPCDATA,
	"rcdata":    tokenizer.ContentModelRCDATA,
	"cdata":     tokenizer.ContentModelCDATA,
	"plaintext": tokenizer.ContentModelPlaintext,
}

func newTokensCommand(color *string) *cobra.Command {
	var model string
	var chunk int

	cmd := &cobra.Command{
		Use:   "tokens [file...]",
		Short: "Tokenize HTML and print the token stream",
		Long: `Tokenize the given files (or stdin) and print one line per token.

Input is fed to the tokenizer in chunks, exercising the same suspend/resume
path a network parser would use.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, ok := contentModels[model]
			if !ok {
				return errors.Errorf("unknown content model %q", model)
			}

			st := newStyles(colorEnabled(*color))
			width := termWidth()

			if len(args) == 0 {
				return dump(cmd.OutOrStdout(), os.Stdin, "<stdin>", st, m, chunk, width)
			}

			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return errors.Wrapf(err, "opening %s", path)
				}
				err = dump(cmd.OutOrStdout(), f, path, st, m, chunk, width)
				f.Close()
				if err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "pcdata",
		"initial content model: pcdata, rcdata, cdata, plaintext")
	cmd.Flags().IntVar(&chunk, "chunk", 4096, "bytes fed to the tokenizer per read")

	return cmd
}

// dump drives the tokenizer over rd in chunk-sized pieces, printing each
// token as it is emitted. Token spans are rendered inside the sink, before
// the buffer can move under them.
func dump(w io.Writer, rd io.Reader, name string, st *styles, model tokenizer.ContentModel, chunk, width int) error {
	stream := inputstream.New()
	tok := tokenizer.New(stream)
	defer tok.Close()

	tok.SetContentModel(model)
	tok.SetErrorHandler(func(off int, msg string) {
		logrus.WithFields(logrus.Fields{
			"input":  name,
			"offset": off,
		}).Warn(msg)
	})
	tok.SetTokenHandler(func(token *tokenizer.Token) {
		io.WriteString(w, st.renderToken(stream, token, width))
		io.WriteString(w, "\n")
	})

	if chunk <= 0 {
		chunk = 4096
	}
	buf := make([]byte, chunk)
	for {
		n, rerr := rd.Read(buf)
		if n > 0 {
			if err := stream.Append(buf[:n]); err != nil {
				return errors.Wrapf(err, "feeding %s", name)
			}
			if err := tok.Run(); err != nil {
				return errors.Wrapf(err, "tokenizing %s", name)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return errors.Wrapf(rerr, "reading %s", name)
		}
	}

	if err := stream.AppendEOF(); err != nil {
		return errors.Wrapf(err, "terminating %s", name)
	}
	if err := tok.Run(); err != nil {
		return errors.Wrapf(err, "tokenizing %s", name)
	}
	return nil
}
