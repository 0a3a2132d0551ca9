// Package domain defines the forge entities mirrored by the cache.
//
// Entities are plain values: caches store them by value and hand out copies,
// so a caller can never mutate cached state without going through Update.
// Set-valued fields (labels, assignees, reviewers) are kept normalised by
// the Normalize methods: NFC-normalised, deduplicated, sorted.
//
// Derived values (PullRequest.ReviewStatus, CheckStatus.Summary and
// CheckStatus.OverallStatus) are always recomputed from their inputs and
// never trusted from the wire or from disk.
package domain
