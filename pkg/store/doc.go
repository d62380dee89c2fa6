// Package store provides the persistence bootstrap shared by all Chronicle
// domain packages: opening a database handle for sqlite3 or postgres,
// rebinding placeholders so domain SQL is written once, and a namespaced
// migration runner that each package feeds its own migration list.
package store
