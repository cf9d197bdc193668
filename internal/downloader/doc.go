// Package downloader fetches the media files of saved items into the media
// root. Each file is retried on transient failures; carousel parts run on a
// small worker pool created for that item alone.
package downloader
