package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/postguard/internal/auth"
	"github.com/BradenHooton/postguard/internal/models"
	pkghttp "github.com/BradenHooton/postguard/pkg/http"
)

const streamKeepAlive = 25 * time.Second

type PostServiceInterface interface {
	Create(ctx context.Context, userID, text string) (*models.PostView, error)
	List(ctx context.Context, userID string) ([]models.PostView, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error
	Watch(ctx context.Context, userID string, send func([]models.PostView) error) error
}

// PostHandler serves the caller's own posts
type PostHandler struct {
	service PostServiceInterface
	logger  *slog.Logger
}

func NewPostHandler(service PostServiceInterface, logger *slog.Logger) *PostHandler {
	return &PostHandler{service: service, logger: logger}
}

type CreatePostRequest struct {
	Text string `json:"text"`
}

// List handles GET /posts
func (h *PostHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	posts, err := h.service.List(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"posts": posts})
}

// Create handles POST /posts
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req CreatePostRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	post, err := h.service.Create(r.Context(), claims.UserID, req.Text)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, post)
}

// Delete handles DELETE /posts/{id}
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid post id")
		return
	}

	if err := h.service.Delete(r.Context(), claims.UserID, id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stream handles GET /posts/stream as server-sent events. Every event
// carries the full post list.
func (h *PostHandler) Stream(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		pkghttp.WriteInternalError(w, "Streaming unsupported")
		return
	}

	// the stream outlives the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// keep-alive comments share the writer with Watch
	writes := make(chan []byte)
	go func() {
		ticker := time.NewTicker(streamKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case writes <- []byte(": keep-alive\n\n"):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	send := func(posts []models.PostView) error {
		data, err := json.Marshal(map[string]interface{}{"posts": posts})
		if err != nil {
			return err
		}
		select {
		case writes <- []byte(fmt.Sprintf("event: posts\ndata: %s\n\n", data)):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	errc := make(chan error, 1)
	go func() { errc <- h.service.Watch(ctx, claims.UserID, send) }()

	for {
		select {
		case msg := <-writes:
			if _, err := w.Write(msg); err != nil {
				cancel()
				<-errc
				return
			}
			flusher.Flush()
		case err := <-errc:
			if err != nil && ctx.Err() == nil {
				h.logger.Warn("post stream ended", slog.String("user_id", claims.UserID), slog.String("error", err.Error()))
				fmt.Fprintf(w, "event: error\ndata: %s\n\n", `{"error":"stream_failed"}`)
				flusher.Flush()
			}
			return
		}
	}
}
