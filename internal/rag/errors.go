package rag

import "errors"

var (
	// ErrInvalidInput marks a request the caller can fix, such as an empty
	// query.
	ErrInvalidInput = errors.New("invalid query input")

	// ErrUpstream marks a failure of the embedding or generation service.
	ErrUpstream = errors.New("upstream model request failed")

	// ErrConsistency marks disagreement between the vector index and the
	// chunk store, such as a search hit whose chunk row is missing.
	ErrConsistency = errors.New("retrieval stores are inconsistent")
)
