package reldata

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cognicore/uberts/pkg/uberts/fact"
	"github.com/cognicore/uberts/pkg/uberts/schema"
)

// FactWriter persists rendered fact lines to a destination (file, DB, etc.).
type FactWriter interface {
	WriteFacts(ctx context.Context, content string) error
}

// Exporter renders decoded documents back into relation data lines.
type Exporter struct {
	Writer FactWriter
	// Scores appends "# score" to every x line.
	Scores bool
}

// Export writes one document: a startdoc line, committed facts as x lines
// and gold facts as y lines.
func (e *Exporter) Export(ctx context.Context, docID string, committed, gold []*fact.Fact) error {
	if e.Writer == nil {
		return fmt.Errorf("fact exporter: nil writer")
	}
	var b strings.Builder
	if docID != "" {
		fmt.Fprintf(&b, "%s %s\n", CmdStartDoc, docID)
	}
	for _, f := range committed {
		b.WriteString(Line(CmdObserved, f))
		if e.Scores {
			fmt.Fprintf(&b, " # %.4f", f.Score)
		}
		b.WriteByte('\n')
	}
	for _, f := range gold {
		b.WriteString(Line(CmdGold, f))
		b.WriteByte('\n')
	}
	return e.Writer.WriteFacts(ctx, b.String())
}

// Line renders f as "command rel v1 v2 ...".
func Line(command string, f *fact.Fact) string {
	var b strings.Builder
	b.WriteString(command)
	b.WriteByte(' ')
	b.WriteString(f.Relation().Name())
	for _, a := range f.Args() {
		b.WriteByte(' ')
		b.WriteString(Token(a.Value()))
	}
	return b.String()
}

// Token renders v so that the reader gives it back unchanged.
func Token(v schema.Value) string {
	switch v.Kind() {
	case schema.KindInt:
		return strconv.FormatInt(v.Int(), 10)
	case schema.KindRef:
		return v.Literal()
	}
	s := v.Str()
	if s == "" || strings.ContainsAny(s, " \t\"#\\") || s[0] == '&' {
		return strconv.Quote(s)
	}
	return s
}

// FileWriter appends to a file, creating it if needed.
type FileWriter struct {
	Path string
}

func (w FileWriter) WriteFacts(ctx context.Context, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.OpenFile(w.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
