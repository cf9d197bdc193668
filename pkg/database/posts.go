package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	errs "instasave/pkg/errors"
	"instasave/pkg/models"
)

// ErrNotFound is returned when a post or media index does not exist
var ErrNotFound = errors.New("not found")

var hashtagPattern = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)

// ExtractTags returns the lowercase, de-duplicated hashtags of caption in
// order of first appearance
func ExtractTags(caption string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(caption, -1)
	seen := make(map[string]bool, len(matches))
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tag := strings.ToLower(m[1])
		if seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}

// Upsert inserts the post or, when its URL is already stored, refreshes
// caption, timestamp and media paths in place. Tags derived from the caption
// are linked idempotently. It returns the stable row id.
func (s *Store) Upsert(ctx context.Context, post *models.Post) (int64, error) {
	if post.URL == "" {
		return 0, errs.NewPersistenceError(nil, "post has no url")
	}
	paths := post.MediaPaths
	if paths == nil {
		paths = []string{}
	}
	mediaJSON, err := json.Marshal(paths)
	if err != nil {
		return 0, errs.NewPersistenceError(err, "failed to encode media paths")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errs.NewPersistenceError(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO posts (url, caption, timestamp, media_paths, thumbnail_path)
		VALUES (?, ?, ?, ?, NULLIF(?, ''))`,
		post.URL, post.Caption, post.Timestamp, string(mediaJSON), post.ThumbnailPath)
	if err != nil {
		return 0, errs.NewPersistenceError(err, "failed to insert post "+post.URL)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE posts
			SET caption = ?, timestamp = ?, media_paths = ?,
			    thumbnail_path = COALESCE(NULLIF(?, ''), thumbnail_path)
			WHERE url = ?`,
			post.Caption, post.Timestamp, string(mediaJSON), post.ThumbnailPath, post.URL); err != nil {
			return 0, errs.NewPersistenceError(err, "failed to update post "+post.URL)
		}
	}

	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM posts WHERE url = ?`, post.URL).Scan(&id); err != nil {
		return 0, errs.NewPersistenceError(err, "failed to read post id")
	}

	tags := ExtractTags(post.Caption)
	for _, tag := range tags {
		if err := linkTag(ctx, tx, id, tag); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errs.NewPersistenceError(err, "failed to commit post "+post.URL)
	}

	post.ID = id
	post.Tags = tags
	return id, nil
}

func linkTag(ctx context.Context, tx *sql.Tx, postID int64, name string) error {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tags (name) VALUES (?)`, name); err != nil {
		return errs.NewPersistenceError(err, "failed to insert tag "+name)
	}
	var tagID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM tags WHERE name = ?`, name).Scan(&tagID); err != nil {
		return errs.NewPersistenceError(err, "failed to read tag id")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO post_tags (post_id, tag_id) VALUES (?, ?)`, postID, tagID); err != nil {
		return errs.NewPersistenceError(err, "failed to link tag "+name)
	}
	return nil
}

// ListOptions selects a page of posts
type ListOptions struct {
	// Query filters captions with a substring match
	Query string
	Page  int
	Limit int
	// Ascending sorts oldest first; the default is newest first
	Ascending bool
}

// ListPosts returns one page of posts ordered by timestamp
func (s *Store) ListPosts(ctx context.Context, opts ListOptions) (*models.PostPage, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 {
		opts.Limit = 20
	} else if opts.Limit > 100 {
		opts.Limit = 100
	}

	where := ""
	var args []interface{}
	if opts.Query != "" {
		where = " WHERE caption LIKE ?"
		args = append(args, "%"+opts.Query+"%")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}

	order := "DESC"
	if opts.Ascending {
		order = "ASC"
	}
	query := fmt.Sprintf(`
		SELECT id, url, COALESCE(caption, ''), COALESCE(timestamp, 0), media_paths, COALESCE(thumbnail_path, '')
		FROM posts%s
		ORDER BY CAST(timestamp AS INTEGER) %s, id %s
		LIMIT ? OFFSET ?`, where, order, order)
	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, (opts.Page-1)*opts.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		var p models.Post
		var mediaJSON string
		if err := rows.Scan(&p.ID, &p.URL, &p.Caption, &p.Timestamp, &mediaJSON, &p.ThumbnailPath); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		p.Code = CodeFromURL(p.URL)
		p.MediaPaths = decodeMediaPaths(mediaJSON)
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}

	totalPages := (total + opts.Limit - 1) / opts.Limit
	if totalPages < 1 {
		totalPages = 1
	}
	return &models.PostPage{
		Posts:      posts,
		Total:      total,
		Page:       opts.Page,
		Limit:      opts.Limit,
		TotalPages: totalPages,
	}, nil
}

// GetByURL returns a stored post with its tags
func (s *Store) GetByURL(ctx context.Context, url string) (*models.Post, error) {
	var p models.Post
	var mediaJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, url, COALESCE(caption, ''), COALESCE(timestamp, 0), media_paths, COALESCE(thumbnail_path, '')
		FROM posts WHERE url = ?`, url).
		Scan(&p.ID, &p.URL, &p.Caption, &p.Timestamp, &mediaJSON, &p.ThumbnailPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load post: %w", err)
	}
	p.Code = CodeFromURL(p.URL)
	p.MediaPaths = decodeMediaPaths(mediaJSON)

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name FROM tags t
		JOIN post_tags pt ON pt.tag_id = t.id
		WHERE pt.post_id = ? ORDER BY t.name`, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		p.Tags = append(p.Tags, name)
	}
	return &p, rows.Err()
}

// likeEscaper makes a value match itself literally inside a LIKE pattern
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// MediaPath returns the idx-th media path of the post with the given code
func (s *Store) MediaPath(ctx context.Context, code string, idx int) (string, error) {
	if code == "" || idx < 0 {
		return "", ErrNotFound
	}
	var mediaJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT media_paths FROM posts WHERE url LIKE ? ESCAPE '\' LIMIT 1`,
		"%/p/"+likeEscaper.Replace(code)+"/%").Scan(&mediaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load media paths: %w", err)
	}
	paths := decodeMediaPaths(mediaJSON)
	if idx >= len(paths) {
		return "", ErrNotFound
	}
	return paths[idx], nil
}

// CodeFromURL extracts the short code from a /p/<code>/ post URL
func CodeFromURL(url string) string {
	i := strings.Index(url, "/p/")
	if i < 0 {
		return ""
	}
	rest := url[i+3:]
	if j := strings.Index(rest, "/"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func decodeMediaPaths(raw string) []string {
	var paths []string
	if err := json.Unmarshal([]byte(raw), &paths); err != nil || paths == nil {
		return []string{}
	}
	return paths
}
