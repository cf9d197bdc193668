// Package status keeps the scrape progress record that the job controller
// writes and the HTTP API and CLI read. The record lives in a JSON file so
// a separate process can poll it while a run is in flight.
package status
