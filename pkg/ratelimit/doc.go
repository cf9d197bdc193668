// Package ratelimit paces requests to the remote API so listing pages and
// media fetches stay under the service's request budget.
package ratelimit
