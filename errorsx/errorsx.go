// Package errorsx defines the shared error taxonomy used across the
// link-shortening core and a small bounded-retry helper for callers that
// sit in front of storage or the event transport.
package errorsx

// Kind is a sentinel error type, the same idiom the gateway used for its
// billing/metering errors: a named string satisfying the error interface
// so callers can compare with == instead of errors.As.
type Kind string

func (e Kind) Error() string { return string(e) }

const (
	// InvalidURL — canonicalization failed or the scheme is unsupported.
	InvalidURL Kind = "invalid url"
	// InvalidCode — a resolve input fails the alphabet/length check.
	InvalidCode Kind = "invalid short code"
	// NotFound — no live row exists for a valid code.
	NotFound Kind = "not found"
	// Gone — a matching row exists but fails the liveness predicate.
	Gone Kind = "gone"
	// CodeTaken — a caller-supplied custom code already exists.
	CodeTaken Kind = "code already taken"
	// CollisionUnresolved — all salts 0..collision_max_salt were exhausted.
	CollisionUnresolved Kind = "collision unresolved"
	// StorageUnavailable — a transport-level storage failure, retryable.
	StorageUnavailable Kind = "storage unavailable"
	// StorageConflict — a constraint violation the caller didn't anticipate.
	StorageConflict Kind = "storage conflict"
	// DeadlineExceeded — the operation did not complete within its deadline.
	DeadlineExceeded Kind = "deadline exceeded"
	// EventPublishFailed — the click event producer could not accept the
	// event after backoff. Never surfaced on the redirect path.
	EventPublishFailed Kind = "event publish failed"
)

// ConflictKind reports which uniqueness index a link store insert tripped.
type ConflictKind int

const (
	// Inserted means the row landed with no conflict.
	Inserted ConflictKind = iota
	// ConflictByCode means the (tenant, code) index already holds a row.
	ConflictByCode
	// ConflictByCanonical means the (tenant, canonical) index already holds a row.
	ConflictByCanonical
)

func (k ConflictKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case ConflictByCode:
		return "conflict_by_code"
	case ConflictByCanonical:
		return "conflict_by_canonical"
	default:
		return "unknown"
	}
}
