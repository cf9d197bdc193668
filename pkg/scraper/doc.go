// Package scraper performs a single pass over the account's saved posts.
//
// A Runner authenticates through the auth cascade, pages the saved feed in
// the order the API returns it (newest first) and hands every item to the
// download pipeline before upserting its metadata. The walk ends when the
// listing is exhausted, when an item older than the requested date range
// shows up, or when the stop channel is closed. Stop requests are honoured
// between items, never in the middle of a download.
//
// Posts reach the engine through Normalize, which accepts both the typed
// instagram.Media and the loosely typed maps found in exported dumps.
package scraper
