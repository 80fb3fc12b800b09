package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/twotower/internal/batch"
	"github.com/matsen/twotower/internal/corpus"
)

const replPrompt = "Enter a query (or blank to quit): "

var (
	replSamples   int
	replFromFiles bool
)

func init() {
	rootCmd.AddCommand(replCmd)

	replCmd.Flags().IntVar(&replSamples, "samples", 0, "Run the first N sample queries before prompting")
	replCmd.Flags().BoolVar(&replFromFiles, "from-files", false, "Load tower weights from the data directory instead of the database")
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Search interactively",
	Long: `Read queries from standard input and print the closest document
references after each one. A blank line exits.`,
	RunE: runRepl,
}

type searchFunc func(ctx context.Context, query string) ([]string, error)

func runRepl(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := mustLoadConfig()
	searcher := mustLoadSearcher(ctx, cfg, cfg.Index.K, replFromFiles)

	if replSamples > 0 {
		queries, err := corpus.ReadQueriesFile(cfg.Resolve(cfg.SampleQueries))
		if err != nil {
			exitWithError(ExitDataError, "reading sample queries: %v", err)
		}
		if len(queries) > replSamples {
			queries = queries[:replSamples]
		}
		for _, q := range queries {
			fmt.Fprintf(stdout, "%s\n", q.Text)
			if err := printResults(ctx, stdout, searcher.Search, q.Text); err != nil {
				return err
			}
		}
	}

	return runPrompt(ctx, os.Stdin, stdout, searcher.Search)
}

// runPrompt reads one query per line from in until a blank line or EOF.
// Queries that cannot be encoded are reported and the loop continues.
func runPrompt(ctx context.Context, in io.Reader, out io.Writer, search searchFunc) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, replPrompt)
		if !scanner.Scan() {
			break
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			break
		}
		if err := printResults(ctx, out, search, query); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	fmt.Fprintln(out, "Goodbye!")
	return nil
}

func printResults(ctx context.Context, out io.Writer, search searchFunc, query string) error {
	refs, err := search(ctx, query)
	if errors.Is(err, batch.ErrEmptySequence) {
		fmt.Fprintln(out, "Query has no tokens, try again.")
		return nil
	}
	if err != nil {
		return err
	}
	for _, ref := range refs {
		fmt.Fprintf(out, "- %s\n", ref)
	}
	return nil
}
