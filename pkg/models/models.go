package models

import "time"

// MediaKind selects which source URL of a media is downloaded
type MediaKind int

const (
	KindImage MediaKind = iota
	KindVideo
)

// Extension returns the file extension used on disk for the kind
func (k MediaKind) Extension() string {
	if k == KindVideo {
		return "mp4"
	}
	return "jpg"
}

// MediaSource is one downloadable file of a saved item
type MediaSource struct {
	ID       string
	Kind     MediaKind
	VideoURL string
	ImageURL string
}

// SourceURL returns the URL matching the media kind
func (m MediaSource) SourceURL() string {
	if m.Kind == KindVideo && m.VideoURL != "" {
		return m.VideoURL
	}
	return m.ImageURL
}

// SavedItem is the engine's view of one bookmarked post, independent of
// how the remote client represents it
type SavedItem struct {
	ID       string
	Code     string
	URL      string
	Caption  string
	TakenAt  time.Time
	Carousel bool
	// Media has exactly one entry unless Carousel is set
	Media []MediaSource
}

// Post is a persisted row of the posts table
type Post struct {
	ID            int64    `json:"id"`
	Code          string   `json:"code"`
	URL           string   `json:"url"`
	Caption       string   `json:"caption"`
	Timestamp     int64    `json:"timestamp"`
	MediaPaths    []string `json:"media_paths"`
	ThumbnailPath string   `json:"thumbnail_path,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// PostPage is one page of a post listing
type PostPage struct {
	Posts      []Post `json:"posts"`
	Total      int    `json:"total"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	TotalPages int    `json:"total_pages"`
}

// DeadLetterEntry records an item that could not be processed
type DeadLetterEntry struct {
	ItemID string
	Reason string
	At     time.Time
}

// LoginResult is the outcome of an authentication probe
type LoginResult struct {
	OK       bool   `json:"ok"`
	Method   string `json:"method,omitempty"`
	Username string `json:"username,omitempty"`
	Error    string `json:"error,omitempty"`
}
