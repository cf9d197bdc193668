package instagram

import (
	"fmt"
	"net/url"
	"strconv"
)

const (
	// DefaultBaseURL is the private API host
	DefaultBaseURL = "https://i.instagram.com"

	// WebURL is the public site used for canonical post links
	WebURL = "https://www.instagram.com"

	LoginEndpoint       = "/api/v1/accounts/login/"
	CurrentUserEndpoint = "/api/v1/accounts/current_user/"
	SavedFeedEndpoint   = "/api/v1/feed/saved/posts/"

	// MaxSavedPageSize is the largest page the saved feed honours
	MaxSavedPageSize = 200
)

// PostURL returns the canonical public URL of a post
func PostURL(code string) string {
	if code == "" {
		return ""
	}
	return fmt.Sprintf("%s/p/%s/", WebURL, code)
}

func savedFeedURL(base, maxID string, count int) string {
	if count <= 0 {
		count = 50
	} else if count > MaxSavedPageSize {
		count = MaxSavedPageSize
	}

	params := url.Values{}
	params.Set("count", strconv.Itoa(count))
	if maxID != "" {
		params.Set("max_id", maxID)
	}
	return fmt.Sprintf("%s%s?%s", base, SavedFeedEndpoint, params.Encode())
}
