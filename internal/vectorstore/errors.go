package vectorstore

import "errors"

var (
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the collection's dimension. The whole batch is rejected.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrNamespaceNotFound is returned by Collection lookups. Store read
	// operations treat it as an empty result.
	ErrNamespaceNotFound = errors.New("namespace not found")
	ErrEmptyEmbedding    = errors.New("empty embedding")
	ErrCorruptIndex      = errors.New("corrupt index file")
)
