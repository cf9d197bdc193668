// Package server exposes the scrape job over a small JSON API: start and
// stop a run, read its status, tail the operator log, manage the stored
// session and browse the posts already saved.
package server
