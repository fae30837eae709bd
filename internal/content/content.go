// Package content manages the site's blog, education, and community posts.
// All user-submitted HTML passes through a bluemonday UGC policy before it is
// stored; the database never holds raw markup.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"beuhouse-backend/internal/model"
	"beuhouse-backend/internal/store/sqlite"
)

var ErrNotFound = errors.New("content: post not found")

const (
	maxTitleLen = 200
	maxBodyLen  = 50_000

	defaultPageSize = 20
	maxPageSize     = 100
)

// ValidationError reports a malformed post field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Store is the slice of the sqlite store the service needs.
type Store interface {
	CreatePost(ctx context.Context, p *model.Post) (int64, error)
	PostByID(ctx context.Context, id int64) (*model.Post, error)
	ListPosts(ctx context.Context, section string, limit, offset int) ([]model.Post, error)
	UpdatePost(ctx context.Context, id, authorID int64, title, body string) error
	DeletePost(ctx context.Context, id, authorID int64) error
}

type Service struct {
	store    Store
	sanitize *bluemonday.Policy
}

func NewService(store Store) *Service {
	return &Service{
		store:    store,
		sanitize: bluemonday.UGCPolicy(),
	}
}

// Create validates, sanitizes, and stores a new post.
func (s *Service) Create(ctx context.Context, authorID int64, section, title, body string) (*model.Post, error) {
	section = strings.ToLower(strings.TrimSpace(section))
	if !model.ValidSection(section) {
		return nil, &ValidationError{Field: "section", Reason: "unknown section " + section}
	}
	title = strings.TrimSpace(s.sanitize.Sanitize(title))
	body = strings.TrimSpace(s.sanitize.Sanitize(body))
	if title == "" || len(title) > maxTitleLen {
		return nil, &ValidationError{Field: "title", Reason: fmt.Sprintf("must be 1-%d characters after sanitization", maxTitleLen)}
	}
	if body == "" || len(body) > maxBodyLen {
		return nil, &ValidationError{Field: "body", Reason: fmt.Sprintf("must be 1-%d characters after sanitization", maxBodyLen)}
	}

	p := &model.Post{AuthorID: authorID, Section: section, Title: title, Body: body}
	if _, err := s.store.CreatePost(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get fetches one post.
func (s *Service) Get(ctx context.Context, id int64) (*model.Post, error) {
	p, err := s.store.PostByID(ctx, id)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// List returns a page of posts for one section, newest first.
func (s *Service) List(ctx context.Context, section string, page, pageSize int) ([]model.Post, error) {
	section = strings.ToLower(strings.TrimSpace(section))
	if !model.ValidSection(section) {
		return nil, &ValidationError{Field: "section", Reason: "unknown section " + section}
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return s.store.ListPosts(ctx, section, pageSize, (page-1)*pageSize)
}

// Update rewrites a post owned by authorID with sanitized content.
func (s *Service) Update(ctx context.Context, id, authorID int64, title, body string) (*model.Post, error) {
	title = strings.TrimSpace(s.sanitize.Sanitize(title))
	body = strings.TrimSpace(s.sanitize.Sanitize(body))
	if title == "" || len(title) > maxTitleLen {
		return nil, &ValidationError{Field: "title", Reason: fmt.Sprintf("must be 1-%d characters after sanitization", maxTitleLen)}
	}
	if body == "" || len(body) > maxBodyLen {
		return nil, &ValidationError{Field: "body", Reason: fmt.Sprintf("must be 1-%d characters after sanitization", maxBodyLen)}
	}

	if err := s.store.UpdatePost(ctx, id, authorID, title, body); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes a post owned by authorID.
func (s *Service) Delete(ctx context.Context, id, authorID int64) error {
	if err := s.store.DeletePost(ctx, id, authorID); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}
