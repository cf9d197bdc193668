// Package storage owns the on-disk artefacts of a scrape that are not in the
// database: the date-bucketed media tree and the append-only dead letter log.
package storage
