package scraper

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instasave/pkg/instagram"
	"instasave/pkg/models"
)

func imageVersions(url string) *instagram.ImageVersions {
	return &instagram.ImageVersions{Candidates: []instagram.MediaVersion{{URL: url, Width: 1080}}}
}

func TestNormalizePhoto(t *testing.T) {
	item, err := Normalize(instagram.Media{
		PK:             42,
		Code:           "AbC",
		TakenAt:        1700000000,
		MediaType:      instagram.MediaTypePhoto,
		Caption:        &instagram.Caption{Text: "hello #World"},
		ImageVersions2: imageVersions("https://cdn/42.jpg"),
	})
	require.NoError(t, err)

	assert.Equal(t, "42", item.ID)
	assert.Equal(t, "https://www.instagram.com/p/AbC/", item.URL)
	assert.Equal(t, "hello #World", item.Caption)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), item.TakenAt)
	assert.False(t, item.Carousel)
	require.Len(t, item.Media, 1)
	assert.Equal(t, models.KindImage, item.Media[0].Kind)
	assert.Equal(t, "https://cdn/42.jpg", item.Media[0].SourceURL())
}

func TestNormalizeVideo(t *testing.T) {
	item, err := Normalize(&instagram.Media{
		PK:             7,
		Code:           "vid",
		MediaType:      instagram.MediaTypeVideo,
		ImageVersions2: imageVersions("https://cdn/7.jpg"),
		VideoVersions:  []instagram.MediaVersion{{URL: "https://cdn/7.mp4"}},
	})
	require.NoError(t, err)
	require.Len(t, item.Media, 1)
	assert.Equal(t, models.KindVideo, item.Media[0].Kind)
	assert.Equal(t, "https://cdn/7.mp4", item.Media[0].SourceURL())
}

func TestNormalizeCarousel(t *testing.T) {
	item, err := Normalize(instagram.Media{
		PK:        100,
		Code:      "car",
		MediaType: instagram.MediaTypeCarousel,
		CarouselMedia: []instagram.Media{
			{PK: 101, MediaType: instagram.MediaTypePhoto, ImageVersions2: imageVersions("https://cdn/101.jpg")},
			{PK: 102, MediaType: instagram.MediaTypeVideo, VideoVersions: []instagram.MediaVersion{{URL: "https://cdn/102.mp4"}}},
		},
	})
	require.NoError(t, err)
	assert.True(t, item.Carousel)
	require.Len(t, item.Media, 2)
	assert.Equal(t, "101", item.Media[0].ID)
	assert.Equal(t, models.KindVideo, item.Media[1].Kind)
}

func TestNormalizeMap(t *testing.T) {
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(`{
		"pk": "3141592653",
		"code": "XyZ",
		"taken_at": "2024-01-02T03:04:05Z",
		"media_type": 8,
		"caption_text": "from a dump #Tag",
		"resources": [
			{"pk": 1, "media_type": 1, "thumbnail_url": "https://cdn/1.jpg"},
			{"pk": 2, "media_type": 2, "thumbnail_url": "https://cdn/2.jpg", "video_url": "https://cdn/2.mp4"}
		]
	}`), &raw))

	item, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "3141592653", item.ID)
	assert.Equal(t, "https://www.instagram.com/p/XyZ/", item.URL)
	assert.Equal(t, "from a dump #Tag", item.Caption)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), item.TakenAt)
	assert.True(t, item.Carousel)
	require.Len(t, item.Media, 2)
	assert.Equal(t, "https://cdn/1.jpg", item.Media[0].SourceURL())
	assert.Equal(t, "https://cdn/2.mp4", item.Media[1].SourceURL())
}

func TestNormalizeMapWithAPIFields(t *testing.T) {
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(`{
		"pk": 55,
		"code": "api",
		"taken_at": 1700000000,
		"media_type": 1,
		"caption": {"text": "nested caption"},
		"image_versions2": {"candidates": [{"url": "https://cdn/55.jpg", "width": 640}]}
	}`), &raw))

	item, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "55", item.ID)
	assert.Equal(t, "nested caption", item.Caption)
	assert.Equal(t, int64(1700000000), item.TakenAt.Unix())
	assert.Equal(t, "https://cdn/55.jpg", item.Media[0].SourceURL())
}

func TestNormalizeRejects(t *testing.T) {
	_, err := Normalize("not a post")
	assert.Error(t, err)

	_, err = Normalize(instagram.Media{Code: "noid"})
	assert.Error(t, err)

	_, err = Normalize(map[string]interface{}{"pk": 1, "taken_at": "yesterday"})
	assert.Error(t, err)

	var nilMedia *instagram.Media
	_, err = Normalize(nilMedia)
	assert.Error(t, err)
}
