package main

// Process exit codes.
const (
	ExitSuccess       = 0 // Success
	ExitError         = 1 // Runtime failure (training diverged, I/O error)
	ExitConfigError   = 2 // Bad or missing config, weights, word vectors or index
	ExitDataError     = 3 // Malformed CSV input, query with no tokens, Ollama unreachable
	ExitModelNotFound = 5 // Baseline embedding model not pulled in Ollama
)
