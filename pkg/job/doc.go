// Package job runs the scrape in the background. A Controller enforces that
// a single job exists at a time, exposes start and cooperative stop, and
// guarantees cleanup of the marker file and dead-letter buffer however the
// job ends. A Scheduler triggers the controller from a cron expression.
package job
