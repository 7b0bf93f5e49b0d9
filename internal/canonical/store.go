package canonical

import "context"

// ResourceStore is the abstract key-value blob backend the canonical
// record is written to. Implementations exist for memory, the local
// filesystem, and S3.
//
// Keys are write-once: Put with bytes identical to what is already stored
// succeeds silently (idempotent), while different bytes fail with
// ErrConflict. Exactly-once semantics above this layer come from content
// hashing; the store itself only promises safe retry (at-least-once).
//
// Transient backend failures surface as ErrBackendUnavailable and are
// never retried inside the store. Timeouts and cancellation propagate
// through the context.
type ResourceStore interface {
	// Put stores data under key with write-once semantics and returns the
	// hex SHA-256 checksum of data.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// Update overwrites key unconditionally. It exists for exactly one key
	// class: unsealed daily listing shard files, which grow by append
	// until the day is sealed. Each shard has a single owning writer, so
	// read-modify-write here is race-free by convention. Everything else
	// goes through Put.
	Update(ctx context.Context, key string, data []byte) error

	// Get returns the bytes stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// ListPrefix calls fn for each key under prefix, in lexicographic
	// order. Iteration stops at the first error from fn, which is
	// returned. The listing is finite and restartable: calling ListPrefix
	// again starts over from the beginning.
	ListPrefix(ctx context.Context, prefix string, fn func(key string) error) error
}
