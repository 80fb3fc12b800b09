package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/matsen/twotower/internal/batch"
)

func fakeSearch(results map[string][]string) searchFunc {
	return func(_ context.Context, query string) ([]string, error) {
		refs, ok := results[query]
		if !ok {
			return nil, fmt.Errorf("encoding %q: %w", query, batch.ErrEmptySequence)
		}
		return refs, nil
	}
}

func TestRunPrompt(t *testing.T) {
	search := fakeSearch(map[string][]string{
		"blue sky":   {"doc-b", "doc-a"},
		"green tree": {"doc-c"},
	})

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "blank line quits",
			input: "blue sky\n\ngreen tree\n",
			want:  replPrompt + "- doc-b\n- doc-a\n" + replPrompt + "Goodbye!\n",
		},
		{
			name:  "eof quits",
			input: "green tree",
			want:  replPrompt + "- doc-c\n" + replPrompt + "Goodbye!\n",
		},
		{
			name:  "immediate quit",
			input: "\n",
			want:  replPrompt + "Goodbye!\n",
		},
		{
			name:  "unknown words continue",
			input: "zzz\n  blue sky  \n",
			want: replPrompt + "Query has no tokens, try again.\n" +
				replPrompt + "- doc-b\n- doc-a\n" + replPrompt + "Goodbye!\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out strings.Builder
			err := runPrompt(context.Background(), strings.NewReader(tt.input), &out, search)
			if err != nil {
				t.Fatalf("runPrompt: %v", err)
			}
			if out.String() != tt.want {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestRunPromptSearchError(t *testing.T) {
	boom := errors.New("index unavailable")
	search := func(context.Context, string) ([]string, error) { return nil, boom }

	var out strings.Builder
	err := runPrompt(context.Background(), strings.NewReader("query\n"), &out, search)
	if !errors.Is(err, boom) {
		t.Errorf("expected search error, got %v", err)
	}
}
