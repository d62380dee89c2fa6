// Package diff computes canonical structural deltas between two attribute
// mappings. The delta records added, removed, and changed key paths,
// recursing into nested mappings up to a fixed depth bound. Output is
// deterministic: entries are sorted lexicographically by key path, so
// identical inputs serialize to identical bytes. Absent keys and explicit
// null values are distinct. Container values compare order-insensitively.
package diff
