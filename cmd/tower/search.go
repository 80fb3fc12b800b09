package main

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/twotower/internal/batch"
	"github.com/matsen/twotower/internal/config"
	"github.com/matsen/twotower/internal/index"
	"github.com/matsen/twotower/internal/inference"
	"github.com/matsen/twotower/internal/projector"
)

var (
	searchK         int
	searchDistances bool
	searchFromFiles bool
)

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntVar(&searchK, "k", 0, "Number of results (default from config)")
	searchCmd.Flags().BoolVar(&searchDistances, "distances", false, "Include the cosine distance of each result")
	searchCmd.Flags().BoolVar(&searchFromFiles, "from-files", false, "Load tower weights from the data directory instead of the database")
}

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Find the documents closest to a query",
	Long: `Encode QUERY with the query tower and print the references of the
nearest documents in the index, closest first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

// SearchResult is the response for the search command.
type SearchResult struct {
	Query   string        `json:"query"`
	DocRefs []string      `json:"doc_refs,omitempty"`
	Matches []index.Match `json:"matches,omitempty"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	query := strings.Join(args, " ")

	cfg := mustLoadConfig()
	k := cfg.Index.K
	if searchK > 0 {
		k = searchK
	}
	searcher := mustLoadSearcher(ctx, cfg, k, searchFromFiles)

	matches, err := searcher.SearchWithDistances(ctx, query)
	if err != nil {
		if errors.Is(err, batch.ErrEmptySequence) {
			exitWithError(ExitDataError, "query %q has no tokens", query)
		}
		exitWithError(ExitError, "searching: %v", err)
	}

	result := SearchResult{Query: query}
	if searchDistances {
		result.Matches = matches
	} else {
		result.DocRefs = make([]string, len(matches))
		for i, m := range matches {
			result.DocRefs[i] = m.ID
		}
	}

	if humanOutput {
		if len(matches) == 0 {
			outputHuman("No results.\n")
			return nil
		}
		for _, m := range matches {
			if searchDistances {
				outputHuman("- %s (%s)\n", m.ID, formatRounded(m.Distance, 4))
			} else {
				outputHuman("- %s\n", m.ID)
			}
		}
		return nil
	}
	return outputJSON(result)
}

// mustLoadSearcher wires the query tower, word vectors and document index
// into a Searcher. Exits on error.
func mustLoadSearcher(ctx context.Context, cfg *config.Config, k int, fromFiles bool) *inference.Searcher {
	lookup := mustLoadWordVectors(cfg)
	coll := mustLoadIndex(cfg)

	db := mustOpenDatabase(cfg)
	defer db.Close()
	query := mustLoadTower(ctx, cfg, db, projector.RoleQuery, lookup.Dimensions(), fromFiles)

	return &inference.Searcher{
		Query:  query,
		Lookup: lookup,
		Index:  coll,
		K:      k,
	}
}
