package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"beuhouse-backend/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, name string) *model.User {
	t.Helper()
	u := &model.User{Username: name, Email: name + "@example.com", PasswordHash: "x"}
	if _, err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s): %v", name, err)
	}
	return u
}

func TestUserRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u := seedUser(t, s, "satoshi")
	if u.ID == 0 {
		t.Fatal("id not set")
	}

	got, err := s.UserByUsername(ctx, "satoshi")
	if err != nil {
		t.Fatalf("UserByUsername: %v", err)
	}
	if got.ID != u.ID || got.Email != "satoshi@example.com" {
		t.Errorf("got %+v", got)
	}

	byID, err := s.UserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("UserByID: %v", err)
	}
	if byID.Username != "satoshi" {
		t.Errorf("username = %s", byID.Username)
	}

	if _, err := s.UserByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicateUserConflicts(t *testing.T) {
	s := testStore(t)
	seedUser(t, s, "satoshi")

	dup := &model.User{Username: "satoshi", Email: "other@example.com", PasswordHash: "x"}
	if _, err := s.CreateUser(context.Background(), dup); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate username, got %v", err)
	}

	dup2 := &model.User{Username: "other", Email: "satoshi@example.com", PasswordHash: "x"}
	if _, err := s.CreateUser(context.Background(), dup2); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate email, got %v", err)
	}
}

func TestTOTPSecret(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "satoshi")

	if err := s.SetTOTPSecret(ctx, u.ID, "SECRET"); err != nil {
		t.Fatalf("SetTOTPSecret: %v", err)
	}
	got, err := s.UserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("UserByID: %v", err)
	}
	if !got.TOTPEnabled() || got.TOTPSecret != "SECRET" {
		t.Errorf("totp = %q", got.TOTPSecret)
	}

	if err := s.SetTOTPSecret(ctx, 9999, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostCRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "author")

	p := &model.Post{AuthorID: u.ID, Section: model.SectionBlog, Title: "Hello", Body: "<p>hi</p>"}
	id, err := s.CreatePost(ctx, p)
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	got, err := s.PostByID(ctx, id)
	if err != nil {
		t.Fatalf("PostByID: %v", err)
	}
	if got.Title != "Hello" || got.Author != "author" || got.Section != model.SectionBlog {
		t.Errorf("got %+v", got)
	}

	if err := s.UpdatePost(ctx, id, u.ID, "Hello v2", "<p>hi again</p>"); err != nil {
		t.Fatalf("UpdatePost: %v", err)
	}
	got, _ = s.PostByID(ctx, id)
	if got.Title != "Hello v2" {
		t.Errorf("title = %s after update", got.Title)
	}

	// Someone else's id must not be able to touch the post.
	other := seedUser(t, s, "other")
	if err := s.UpdatePost(ctx, id, other.ID, "x", "y"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for wrong author, got %v", err)
	}
	if err := s.DeletePost(ctx, id, other.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for wrong author delete, got %v", err)
	}

	if err := s.DeletePost(ctx, id, u.ID); err != nil {
		t.Fatalf("DeletePost: %v", err)
	}
	if _, err := s.PostByID(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListPostsOrderAndPaging(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "author")

	for _, title := range []string{"first", "second", "third"} {
		p := &model.Post{AuthorID: u.ID, Section: model.SectionEducation, Title: title, Body: "b"}
		if _, err := s.CreatePost(ctx, p); err != nil {
			t.Fatalf("CreatePost(%s): %v", title, err)
		}
	}
	other := &model.Post{AuthorID: u.ID, Section: model.SectionBlog, Title: "elsewhere", Body: "b"}
	if _, err := s.CreatePost(ctx, other); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	posts, err := s.ListPosts(ctx, model.SectionEducation, 10, 0)
	if err != nil {
		t.Fatalf("ListPosts: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("posts = %d, want 3", len(posts))
	}
	// Newest first; same-second inserts fall back to id desc.
	if posts[0].Title != "third" || posts[2].Title != "first" {
		t.Errorf("order = %s..%s, want third..first", posts[0].Title, posts[2].Title)
	}

	page, err := s.ListPosts(ctx, model.SectionEducation, 2, 2)
	if err != nil {
		t.Fatalf("ListPosts page: %v", err)
	}
	if len(page) != 1 || page[0].Title != "first" {
		t.Errorf("page = %+v", page)
	}
}
