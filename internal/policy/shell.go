package policy

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// SubCommand is one syntactic segment of a shell command line.
type SubCommand struct {
	Text string
	// HasRedirect is set when the segment (or a construct enclosing it)
	// carries an output redirection such as > or >>.
	HasRedirect bool
}

// SplitCommand splits a shell command into its pipeline, &&, || and ;
// segments. Subshells and blocks are kept as single opaque segments.
// A parse failure is returned to the caller, which must treat the whole
// command as unvettable.
func SplitCommand(command string) ([]SubCommand, error) {
	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("parsing command: %w", err)
	}

	printer := syntax.NewPrinter()
	var subs []SubCommand

	var walk func(s *syntax.Stmt, inheritedRedirect bool)
	walk = func(s *syntax.Stmt, inheritedRedirect bool) {
		redirect := inheritedRedirect || hasOutputRedirect(s.Redirs)
		if bin, ok := s.Cmd.(*syntax.BinaryCmd); ok && isSplitOperator(bin.Op) {
			walk(bin.X, redirect)
			walk(bin.Y, redirect)
			return
		}
		var sb strings.Builder
		if err := printer.Print(&sb, s); err != nil {
			// Printing a parsed statement should not fail; if it does,
			// keep the raw command so the caller still sees a segment.
			sb.Reset()
			sb.WriteString(command)
		}
		subs = append(subs, SubCommand{
			Text:        strings.TrimSpace(sb.String()),
			HasRedirect: redirect,
		})
	}

	for _, s := range file.Stmts {
		walk(s, false)
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return subs, nil
}

// isSplitOperator reports whether a binary shell operator separates
// independently vettable commands.
func isSplitOperator(op syntax.BinCmdOperator) bool {
	switch op {
	case syntax.AndStmt, syntax.OrStmt, syntax.Pipe, syntax.PipeAll:
		return true
	}
	return false
}

// hasOutputRedirect reports whether any redirection writes to a file or
// descriptor. Input redirections do not taint a segment.
func hasOutputRedirect(redirs []*syntax.Redirect) bool {
	for _, r := range redirs {
		switch r.Op {
		case syntax.RdrOut, syntax.AppOut, syntax.RdrAll, syntax.AppAll,
			syntax.DplOut, syntax.ClbOut:
			return true
		}
	}
	return false
}
