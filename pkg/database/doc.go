// Package database persists post metadata and hashtags in SQLite.
//
// The schema is created by the embedded scripts under migrations/, applied
// in filename order and recorded in the migrations table. Upsert is keyed on
// the post URL so re-scraping refreshes a row instead of duplicating it.
package database
