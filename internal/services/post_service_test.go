package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/postguard/internal/models"
)

func newTestPostService(repo *MockPostRepository, users *MockUserRepository, sub *MockPostSubscriber) *PostService {
	if sub == nil {
		sub = &MockPostSubscriber{C: make(chan struct{})}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPostService(repo, users, sub, nil, logger)
}

func TestPostService_Create_SanitizesAndStoresPrivate(t *testing.T) {
	user := NewTestUser("user-1", "alice@example.com", "Alice")

	var stored *models.Post
	repo := &MockPostRepository{
		CreateFunc: func(ctx context.Context, post *models.Post) (*models.Post, error) {
			stored = post
			post.ID = uuid.New()
			post.CreatedAt = time.Now()
			return post, nil
		},
	}

	view, err := newTestPostService(repo, repoWithUser(user), nil).
		Create(context.Background(), "user-1", `  hello <script>alert(1)</script> & "you"  `)
	require.NoError(t, err)
	require.NotNil(t, stored)

	assert.NotContains(t, stored.Text, "<")
	assert.NotContains(t, stored.Text, `"`)
	assert.False(t, strings.HasPrefix(stored.Text, " "))
	assert.Equal(t, "user-1", stored.UserID)
	assert.Equal(t, "alice@example.com", stored.UserEmail)
	assert.Equal(t, "Alice", stored.DisplayName)
	assert.False(t, stored.Public)
	assert.True(t, stored.Sanitized)
	assert.NotContains(t, view.DisplayText, "<script")
}

func TestPostService_Create_DisplayNameFallsBackToEmail(t *testing.T) {
	user := NewTestUser("user-1", "alice@example.com", "")

	repo := &MockPostRepository{
		CreateFunc: func(ctx context.Context, post *models.Post) (*models.Post, error) {
			return post, nil
		},
	}

	view, err := newTestPostService(repo, repoWithUser(user), nil).Create(context.Background(), "user-1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", view.DisplayName)
}

func TestPostService_Create_Validation(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace only", "   \n\t "},
		{"too long", strings.Repeat("a", 1001)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &MockPostRepository{
				CreateFunc: func(ctx context.Context, post *models.Post) (*models.Post, error) {
					t.Fatal("Create must not be called")
					return nil, nil
				},
			}

			_, err := newTestPostService(repo, &MockUserRepository{}, nil).Create(context.Background(), "user-1", tt.text)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields, "text")
		})
	}
}

func TestPostService_Create_UnknownAuthor(t *testing.T) {
	_, err := newTestPostService(&MockPostRepository{}, &MockUserRepository{}, nil).
		Create(context.Background(), "ghost", "hello")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestPostService_List(t *testing.T) {
	repo := &MockPostRepository{
		ListByUserFunc: func(ctx context.Context, userID string) ([]*models.Post, error) {
			assert.Equal(t, "user-1", userID)
			return []*models.Post{
				{ID: uuid.New(), Text: "second &amp; newer", UserID: userID},
				{ID: uuid.New(), Text: "first", UserID: userID},
			}, nil
		},
	}

	views, err := newTestPostService(repo, &MockUserRepository{}, nil).List(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "first", views[1].Text)
	assert.NotEmpty(t, views[0].DisplayText)
}

func TestPostService_List_RepositoryError(t *testing.T) {
	repo := &MockPostRepository{
		ListByUserFunc: func(ctx context.Context, userID string) ([]*models.Post, error) {
			return nil, errors.New("boom")
		},
	}

	_, err := newTestPostService(repo, &MockUserRepository{}, nil).List(context.Background(), "user-1")
	assert.ErrorIs(t, err, models.ErrInternalServer)
}

func TestPostService_Delete(t *testing.T) {
	id := uuid.New()

	t.Run("own post", func(t *testing.T) {
		repo := &MockPostRepository{
			DeleteFunc: func(ctx context.Context, got uuid.UUID, userID string) error {
				assert.Equal(t, id, got)
				assert.Equal(t, "user-1", userID)
				return nil
			},
		}
		assert.NoError(t, newTestPostService(repo, &MockUserRepository{}, nil).Delete(context.Background(), "user-1", id))
	})

	t.Run("someone else's post", func(t *testing.T) {
		repo := &MockPostRepository{
			DeleteFunc: func(ctx context.Context, got uuid.UUID, userID string) error {
				return models.ErrNotFound
			},
		}
		err := newTestPostService(repo, &MockUserRepository{}, nil).Delete(context.Background(), "user-2", id)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestPostService_Watch_SendsOnEveryChange(t *testing.T) {
	calls := 0
	repo := &MockPostRepository{
		ListByUserFunc: func(ctx context.Context, userID string) ([]*models.Post, error) {
			calls++
			posts := make([]*models.Post, calls)
			for i := range posts {
				posts[i] = &models.Post{ID: uuid.New(), Text: "p", UserID: userID}
			}
			return posts, nil
		},
	}
	sub := &MockPostSubscriber{C: make(chan struct{}, 1)}
	svc := newTestPostService(repo, &MockUserRepository{}, sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sizes []int
	done := make(chan error, 1)
	go func() {
		done <- svc.Watch(ctx, "user-1", func(views []models.PostView) error {
			sizes = append(sizes, len(views))
			switch len(sizes) {
			case 1:
				sub.C <- struct{}{}
			case 2:
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return")
	}

	assert.Equal(t, []int{1, 2}, sizes)
	assert.True(t, sub.Cancelled)
}

func TestPostService_Watch_StopsOnSendError(t *testing.T) {
	sub := &MockPostSubscriber{C: make(chan struct{})}
	svc := newTestPostService(&MockPostRepository{}, &MockUserRepository{}, sub)

	sendErr := errors.New("client gone")
	err := svc.Watch(context.Background(), "user-1", func([]models.PostView) error { return sendErr })
	assert.ErrorIs(t, err, sendErr)
	assert.True(t, sub.Cancelled)
}

func TestPostService_ListAndWatch_ReturnEveryPost(t *testing.T) {
	const total = 150
	repo := &MockPostRepository{
		ListByUserFunc: func(ctx context.Context, userID string) ([]*models.Post, error) {
			posts := make([]*models.Post, total)
			for i := range posts {
				posts[i] = &models.Post{ID: uuid.New(), Text: "p", UserID: userID}
			}
			return posts, nil
		},
	}
	sub := &MockPostSubscriber{C: make(chan struct{})}
	svc := newTestPostService(repo, &MockUserRepository{}, sub)

	views, err := svc.List(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, views, total)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var streamed int
	err = svc.Watch(ctx, "user-1", func(views []models.PostView) error {
		streamed = len(views)
		cancel()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, total, streamed)
}
