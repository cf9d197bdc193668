package instagram

import "strconv"

// Media kinds as reported by the private API
const (
	MediaTypePhoto    = 1
	MediaTypeVideo    = 2
	MediaTypeCarousel = 8
)

// Media is one post or carousel child as returned by the saved feed
type Media struct {
	PK             int64          `json:"pk"`
	ID             string         `json:"id"`
	Code           string         `json:"code"`
	TakenAt        int64          `json:"taken_at"`
	MediaType      int            `json:"media_type"`
	Caption        *Caption       `json:"caption"`
	ImageVersions2 *ImageVersions `json:"image_versions2,omitempty"`
	VideoVersions  []MediaVersion `json:"video_versions,omitempty"`
	CarouselMedia  []Media        `json:"carousel_media,omitempty"`
}

// Caption holds the post text
type Caption struct {
	Text string `json:"text"`
}

// ImageVersions lists the still-image renditions, largest first
type ImageVersions struct {
	Candidates []MediaVersion `json:"candidates"`
}

// MediaVersion is a single rendition of an image or video
type MediaVersion struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Identifier returns the numeric pk as a string, falling back to id
func (m *Media) Identifier() string {
	if m.PK != 0 {
		return strconv.FormatInt(m.PK, 10)
	}
	return m.ID
}

// ThumbnailURL returns the largest still-image rendition
func (m *Media) ThumbnailURL() string {
	if m.ImageVersions2 == nil || len(m.ImageVersions2.Candidates) == 0 {
		return ""
	}
	return m.ImageVersions2.Candidates[0].URL
}

// VideoURL returns the first video rendition
func (m *Media) VideoURL() string {
	if len(m.VideoVersions) == 0 {
		return ""
	}
	return m.VideoVersions[0].URL
}

// CaptionText returns the caption or an empty string
func (m *Media) CaptionText() string {
	if m.Caption == nil {
		return ""
	}
	return m.Caption.Text
}

// SavedFeedResponse is one page of /feed/saved/posts/
type SavedFeedResponse struct {
	Items         []SavedFeedItem `json:"items"`
	MoreAvailable bool            `json:"more_available"`
	NextMaxID     string          `json:"next_max_id"`
	Status        string          `json:"status"`
}

// SavedFeedItem wraps a saved media
type SavedFeedItem struct {
	Media Media `json:"media"`
}

// User is the authenticated account
type User struct {
	PK       int64  `json:"pk"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

type currentUserResponse struct {
	User   User   `json:"user"`
	Status string `json:"status"`
}

type loginResponse struct {
	LoggedInUser *User  `json:"logged_in_user"`
	Status       string `json:"status"`
	Message      string `json:"message"`
	ErrorType    string `json:"error_type"`
}

// apiError is the body the API returns on failures
type apiError struct {
	Message   string `json:"message"`
	Status    string `json:"status"`
	ErrorType string `json:"error_type"`
}
