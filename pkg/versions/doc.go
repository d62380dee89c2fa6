// Package versions implements the append-only change history for events.
// Every accepted mutation appends an immutable entry recording the
// pre-mutation snapshot, the structural delta to the new state, the actor,
// and an optional reason. Entries are never updated or deleted; the store
// deliberately exposes no write operation other than Append. Ordering is
// by timestamp ascending with the auto-increment id as a total-order
// tie-break.
package versions
