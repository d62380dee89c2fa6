// Package events implements event storage and the mutation service that
// orchestrates authorization, structural diffing, and version capture.
//
// Every accepted update or rollback appends a version entry before the
// live record is written, so a failed history append aborts the mutation
// and a failed live write still leaves the log complete. Creation is not
// versioned: an event with no history entries is in its created state.
// Collaborator management mutates the live record only.
//
// Concurrent updates to the same event are last-write-wins on the live
// record; the version log keeps both entries.
package events
