package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/participant"
	"github.com/Adithya-Monish-Kumar-K/searchcore/internal/search"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchcore/pkg/errors"
)

type searchOptions struct {
	participants []string
	prefix       string
	limit        int
	format       string
}

func newSearchCmd(opts *globalOptions) *cobra.Command {
	var so searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a boolean query over the indexes",
		Example: `  searchctl search 'decl:Handler ref:ServeHTTP'
  searchctl search 'Foo OR Bar' --participants code --prefix internal/
  searchctl search '~config*' --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if so.format != "text" && so.format != "json" {
				return fmt.Errorf("unknown format %q", so.format)
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			a, err := openLocal(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			q, err := search.Parse(strings.Join(args, " "), participant.DefaultCategories...)
			if err != nil {
				return err
			}
			scope, err := a.Sources.Scope(so.participants, so.prefix)
			if err != nil {
				return err
			}
			searchCtx, stopSearch := context.WithCancel(ctx)
			defer stopSearch()
			printer := newPrinter(cmd.OutOrStdout(), so.format, so.limit, stopSearch)
			err = a.Engine.FindMatches(searchCtx, participant.RewriteWordTerms(q), scope, printer)
			if err != nil && !(apperrors.IsCancellation(err) && printer.truncated) {
				return err
			}
			return printer.finish()
		},
	}

	cmd.Flags().StringSliceVarP(&so.participants, "participants", "p", nil, "participants to search, in order (default all)")
	cmd.Flags().StringVar(&so.prefix, "prefix", "", "only documents whose path starts with this prefix")
	cmd.Flags().IntVarP(&so.limit, "limit", "n", 100, "maximum number of matches")
	cmd.Flags().StringVarP(&so.format, "format", "f", "text", "output format: text, json")
	return cmd
}

// printer writes matches as they arrive in text mode and collects them for
// json mode. It cancels the search once the limit is exceeded.
type printer struct {
	w      io.Writer
	format string
	limit  int
	cancel context.CancelFunc

	mu        sync.Mutex
	matches   []search.Match
	truncated bool
}

func newPrinter(w io.Writer, format string, limit int, cancel context.CancelFunc) *printer {
	return &printer{w: w, format: format, limit: limit, cancel: cancel}
}

func (p *printer) BeginReporting()                     {}
func (p *printer) EndReporting()                       {}
func (p *printer) EnterParticipant(search.Participant) {}
func (p *printer) ExitParticipant(search.Participant)  {}

func (p *printer) AcceptMatch(m search.Match) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.limit > 0 && len(p.matches) >= p.limit {
		if !p.truncated {
			p.truncated = true
			p.cancel()
		}
		return
	}
	p.matches = append(p.matches, m)
	if p.format == "text" {
		fmt.Fprintf(p.w, "%s:%s:%d:%d: %s\n", m.Participant, m.Path, m.Line, m.Column, m.Text)
	}
}

func (p *printer) finish() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.format == "json" {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		matches := p.matches
		if matches == nil {
			matches = []search.Match{}
		}
		return enc.Encode(map[string]any{"matches": matches, "truncated": p.truncated})
	}
	if p.truncated {
		fmt.Fprintf(p.w, "(stopped after %d matches)\n", p.limit)
	}
	return nil
}
