// Package batch partitions ordered input into contiguous, bounded chunks.
package batch

import (
	"errors"
	"fmt"
)

// ErrInvalidBatchSize is returned when a batch size below one is requested.
var ErrInvalidBatchSize = errors.New("batch: invalid batch size")

// Split partitions items into consecutive batches of at most size elements.
// Concatenating the returned batches in order reproduces items exactly.
//
// The first size elements form a batch and the rest is split again; once the
// remainder holds size elements or fewer it becomes the final batch. A size
// greater than or equal to len(items) therefore yields a single batch, and no
// batch is ever empty. An empty input yields no batches.
//
// Batches share the backing array of items and must be treated as read-only.
func Split[T any](items []T, size int) ([][]T, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBatchSize, size)
	}
	if len(items) == 0 {
		return nil, nil
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)
	rest := items
	for len(rest) > size {
		batches = append(batches, rest[:size:size])
		rest = rest[size:]
	}
	return append(batches, rest[:len(rest):len(rest)]), nil
}
