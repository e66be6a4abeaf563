package handlers_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/postguard/internal/handlers"
	"github.com/BradenHooton/postguard/internal/models"
	"github.com/BradenHooton/postguard/internal/services"
)

func newPostHandler(svc *handlers.MockPostService) *handlers.PostHandler {
	return handlers.NewPostHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func samplePost(text string) models.PostView {
	return models.PostView{
		Post: models.Post{
			ID:        uuid.New(),
			Text:      text,
			UserID:    "user-1",
			CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			Sanitized: true,
		},
		DisplayText: text,
	}
}

func TestListPosts(t *testing.T) {
	mock := &handlers.MockPostService{
		ListFunc: func(ctx context.Context, userID string) ([]models.PostView, error) {
			assert.Equal(t, "user-1", userID)
			return []models.PostView{samplePost("hello")}, nil
		},
	}

	req := httptest.NewRequest("GET", "/posts", nil)
	req = handlers.WithAuthContext(req, "user-1", "user@example.com")
	w := httptest.NewRecorder()
	newPostHandler(mock).List(w, req)

	var resp struct {
		Posts []models.PostView `json:"posts"`
	}
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	require.Len(t, resp.Posts, 1)
	assert.Equal(t, "hello", resp.Posts[0].DisplayText)
}

func TestListPosts_Unauthenticated(t *testing.T) {
	req := httptest.NewRequest("GET", "/posts", nil)
	w := httptest.NewRecorder()
	newPostHandler(&handlers.MockPostService{}).List(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestCreatePost(t *testing.T) {
	mock := &handlers.MockPostService{
		CreateFunc: func(ctx context.Context, userID, text string) (*models.PostView, error) {
			post := samplePost(text)
			return &post, nil
		},
	}

	req := handlers.NewTestRequest(t, "POST", "/posts", handlers.CreatePostRequest{Text: "first post"})
	req = handlers.WithAuthContext(req, "user-1", "user@example.com")
	w := httptest.NewRecorder()
	newPostHandler(mock).Create(w, req)

	var resp models.PostView
	handlers.AssertJSONResponse(t, w, http.StatusCreated, &resp)
	assert.Equal(t, "first post", resp.Text)
	assert.True(t, resp.Sanitized)
}

func TestCreatePost_Rejected(t *testing.T) {
	mock := &handlers.MockPostService{
		CreateFunc: func(ctx context.Context, userID, text string) (*models.PostView, error) {
			return nil, &services.ValidationError{Fields: map[string]string{"text": "Post cannot be empty"}}
		},
	}

	req := handlers.NewTestRequest(t, "POST", "/posts", handlers.CreatePostRequest{Text: "   "})
	req = handlers.WithAuthContext(req, "user-1", "user@example.com")
	w := httptest.NewRecorder()
	newPostHandler(mock).Create(w, req)

	resp := handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "validation_failed")
	assert.Equal(t, "Post cannot be empty", resp.Fields["text"])
}

func TestDeletePost(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name       string
		param      string
		err        error
		wantStatus int
	}{
		{"deleted", id.String(), nil, http.StatusNoContent},
		{"not owned", id.String(), models.ErrNotFound, http.StatusNotFound},
		{"bad id", "not-a-uuid", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &handlers.MockPostService{
				DeleteFunc: func(ctx context.Context, userID string, got uuid.UUID) error {
					assert.Equal(t, id, got)
					return tt.err
				},
			}

			req := httptest.NewRequest("DELETE", "/posts/"+tt.param, nil)
			req = handlers.WithAuthContext(req, "user-1", "user@example.com")
			req = handlers.WithChiRouteContext(req, map[string]string{"id": tt.param})
			w := httptest.NewRecorder()
			newPostHandler(mock).Delete(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestStreamPosts_SendsSnapshot(t *testing.T) {
	mock := &handlers.MockPostService{
		WatchFunc: func(ctx context.Context, userID string, send func([]models.PostView) error) error {
			return send([]models.PostView{samplePost("streamed")})
		},
	}

	req := httptest.NewRequest("GET", "/posts/stream", nil)
	req = handlers.WithAuthContext(req, "user-1", "user@example.com")
	w := httptest.NewRecorder()
	newPostHandler(mock).Stream(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "event: posts\ndata: ")
	assert.Contains(t, w.Body.String(), `"display_text":"streamed"`)
}

func TestStreamPosts_ReportsFailure(t *testing.T) {
	mock := &handlers.MockPostService{
		WatchFunc: func(ctx context.Context, userID string, send func([]models.PostView) error) error {
			return errors.New("listener gone")
		},
	}

	req := httptest.NewRequest("GET", "/posts/stream", nil)
	req = handlers.WithAuthContext(req, "user-1", "user@example.com")
	w := httptest.NewRecorder()
	newPostHandler(mock).Stream(w, req)

	assert.Contains(t, w.Body.String(), "event: error")
}

func TestStreamPosts_StopsWhenClientLeaves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/posts/stream", nil).WithContext(ctx)
	req = handlers.WithAuthContext(req, "user-1", "user@example.com")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		newPostHandler(&handlers.MockPostService{}).Stream(w, req)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after the client went away")
	}
	assert.NotContains(t, w.Body.String(), "event: error")
}
