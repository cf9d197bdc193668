package scraper

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"instasave/pkg/instagram"
	"instasave/pkg/models"
)

// Normalize converts a post as handed out by the remote client, either a
// typed instagram.Media or a loosely typed JSON map, into a SavedItem.
func Normalize(raw interface{}) (models.SavedItem, error) {
	switch v := raw.(type) {
	case instagram.Media:
		return fromMedia(&v)
	case *instagram.Media:
		if v == nil {
			return models.SavedItem{}, fmt.Errorf("nil media")
		}
		return fromMedia(v)
	case map[string]interface{}:
		m, err := mediaFromMap(v)
		if err != nil {
			return models.SavedItem{}, err
		}
		return fromMedia(m)
	default:
		return models.SavedItem{}, fmt.Errorf("unsupported post representation %T", raw)
	}
}

func fromMedia(m *instagram.Media) (models.SavedItem, error) {
	id := m.Identifier()
	if id == "" {
		return models.SavedItem{}, fmt.Errorf("post has no identifier")
	}

	item := models.SavedItem{
		ID:      id,
		Code:    m.Code,
		URL:     instagram.PostURL(m.Code),
		Caption: m.CaptionText(),
		TakenAt: time.Unix(m.TakenAt, 0).UTC(),
	}

	if m.MediaType == instagram.MediaTypeCarousel && len(m.CarouselMedia) > 0 {
		item.Carousel = true
		for i := range m.CarouselMedia {
			child := &m.CarouselMedia[i]
			childID := child.Identifier()
			if childID == "" {
				childID = fmt.Sprintf("%s_%d", id, i)
			}
			item.Media = append(item.Media, source(childID, child))
		}
		return item, nil
	}

	item.Media = []models.MediaSource{source(id, m)}
	return item, nil
}

func source(id string, m *instagram.Media) models.MediaSource {
	src := models.MediaSource{
		ID:       id,
		Kind:     models.KindImage,
		ImageURL: m.ThumbnailURL(),
	}
	if m.MediaType == instagram.MediaTypeVideo && m.VideoURL() != "" {
		src.Kind = models.KindVideo
		src.VideoURL = m.VideoURL()
	}
	return src
}

// mediaFromMap accepts the API's own field names plus the flattened
// caption_text, thumbnail_url, video_url and resources keys used by
// exported dumps
func mediaFromMap(raw map[string]interface{}) (*instagram.Media, error) {
	m := &instagram.Media{
		ID:        stringField(raw, "id"),
		Code:      stringField(raw, "code"),
		MediaType: int(numberField(raw, "media_type")),
	}
	if pk := stringField(raw, "pk"); pk != "" {
		n, err := strconv.ParseInt(pk, 10, 64)
		if err != nil {
			m.ID = pk
		} else {
			m.PK = n
		}
	}

	switch ts := raw["taken_at"].(type) {
	case string:
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("invalid taken_at %q: %w", ts, err)
		}
		m.TakenAt = t.Unix()
	default:
		m.TakenAt = int64(numberField(raw, "taken_at"))
	}

	switch c := raw["caption"].(type) {
	case string:
		m.Caption = &instagram.Caption{Text: c}
	case map[string]interface{}:
		m.Caption = &instagram.Caption{Text: stringField(c, "text")}
	}
	if text := stringField(raw, "caption_text"); text != "" {
		m.Caption = &instagram.Caption{Text: text}
	}

	if thumb := stringField(raw, "thumbnail_url"); thumb != "" {
		m.ImageVersions2 = &instagram.ImageVersions{Candidates: []instagram.MediaVersion{{URL: thumb}}}
	} else if iv, ok := raw["image_versions2"]; ok {
		m.ImageVersions2 = &instagram.ImageVersions{}
		if err := remarshal(iv, m.ImageVersions2); err != nil {
			return nil, fmt.Errorf("invalid image_versions2: %w", err)
		}
	}
	if video := stringField(raw, "video_url"); video != "" {
		m.VideoVersions = []instagram.MediaVersion{{URL: video}}
	} else if vv, ok := raw["video_versions"]; ok {
		if err := remarshal(vv, &m.VideoVersions); err != nil {
			return nil, fmt.Errorf("invalid video_versions: %w", err)
		}
	}

	children, _ := raw["carousel_media"].([]interface{})
	if len(children) == 0 {
		children, _ = raw["resources"].([]interface{})
	}
	for _, c := range children {
		cm, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		child, err := mediaFromMap(cm)
		if err != nil {
			return nil, err
		}
		m.CarouselMedia = append(m.CarouselMedia, *child)
	}
	if len(m.CarouselMedia) > 0 && m.MediaType == 0 {
		m.MediaType = instagram.MediaTypeCarousel
	}

	return m, nil
}

func stringField(raw map[string]interface{}, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case json.Number:
		return v.String()
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

func numberField(raw map[string]interface{}, key string) float64 {
	switch v := raw[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func remarshal(in, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
