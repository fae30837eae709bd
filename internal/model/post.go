package model

import "time"

// Post sections mirror the site's content areas.
const (
	SectionBlog      = "blog"
	SectionEducation = "education"
	SectionCommunity = "community"
)

// ValidSection reports whether s names a known content section.
func ValidSection(s string) bool {
	switch s {
	case SectionBlog, SectionEducation, SectionCommunity:
		return true
	}
	return false
}

// Post is one piece of site content. Body is stored sanitized; raw
// user-submitted HTML never reaches the database.
type Post struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"author_id"`
	Author    string    `json:"author,omitempty"`
	Section   string    `json:"section"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
