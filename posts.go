package main

import (
	"context"
	"fmt"
	"net/http"
	"sort"
)

func (c *APIClient) ListPosts(ctx context.Context, tokens TokenSource) ([]Post, error) {
	var posts []Post
	if err := c.Do(ctx, tokens, http.MethodGet, "/posts", nil, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

func (c *APIClient) CreatePost(ctx context.Context, tokens TokenSource, post Post) (*Post, error) {
	var created Post
	if err := c.Do(ctx, tokens, http.MethodPost, "/posts", post, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *APIClient) UpdatePost(ctx context.Context, tokens TokenSource, post Post) (*Post, error) {
	var updated Post
	if err := c.Do(ctx, tokens, http.MethodPut, postPath(post.ID), post, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *APIClient) DeletePost(ctx context.Context, tokens TokenSource, id int64) error {
	return c.Do(ctx, tokens, http.MethodDelete, postPath(id), nil, nil)
}

// SavePost creates drafts and updates everything else.
func (c *APIClient) SavePost(ctx context.Context, tokens TokenSource, post Post) (*Post, error) {
	if post.IsDraft() {
		return c.CreatePost(ctx, tokens, post)
	}
	return c.UpdatePost(ctx, tokens, post)
}

func postPath(id int64) string {
	return fmt.Sprintf("/posts/%d", id)
}

// sortPosts orders posts by UpdatedAt descending, then Title ascending.
// Posts without UpdatedAt come first. The input is not modified.
func sortPosts(posts []Post) []Post {
	sorted := make([]Post, len(posts))
	copy(sorted, posts)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].UpdatedAt, sorted[j].UpdatedAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(b.Time):
			return a.After(b.Time)
		}
		return sorted[i].Title < sorted[j].Title
	})

	return sorted
}
