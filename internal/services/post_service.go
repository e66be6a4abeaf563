package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/BradenHooton/postguard/internal/metrics"
	"github.com/BradenHooton/postguard/internal/models"
	"github.com/BradenHooton/postguard/pkg/sanitize"
	"github.com/BradenHooton/postguard/pkg/validation"
)

type PostRepository interface {
	Create(ctx context.Context, post *models.Post) (*models.Post, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Post, error)
	Delete(ctx context.Context, id uuid.UUID, userID string) error
}

// PostSubscriber signals changes to the posts of a user.
type PostSubscriber interface {
	Subscribe(userID string) (<-chan struct{}, func())
}

// UserGetter loads a single user.
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

type PostService struct {
	repo    PostRepository
	users   UserGetter
	watcher PostSubscriber
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewPostService(repo PostRepository, users UserGetter, watcher PostSubscriber, m *metrics.Metrics, logger *slog.Logger) *PostService {
	return &PostService{repo: repo, users: users, watcher: watcher, metrics: m, logger: logger}
}

func toView(p *models.Post) models.PostView {
	return models.PostView{Post: *p, DisplayText: sanitize.ForDisplay(p.Text)}
}

// Create validates text and stores it sanitized as a private post.
func (s *PostService) Create(ctx context.Context, userID, text string) (*models.PostView, error) {
	if msg := validation.ValidatePost(text); msg != "" {
		return nil, &ValidationError{Fields: map[string]string{"text": msg}}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to load post author", slog.String("user_id", userID), slog.String("error", err.Error()))
		return nil, models.ErrInternalServer
	}

	displayName := user.DisplayName
	if displayName == "" {
		displayName = user.Email
	}

	created, err := s.repo.Create(ctx, &models.Post{
		Text:        sanitize.ForStorage(text),
		UserID:      user.ID,
		UserEmail:   user.Email,
		DisplayName: displayName,
		Public:      false,
		Sanitized:   true,
	})
	if err != nil {
		s.logger.Error("failed to create post", slog.String("user_id", userID), slog.String("error", err.Error()))
		return nil, models.ErrInternalServer
	}

	s.metrics.PostCreated()
	view := toView(created)
	return &view, nil
}

// List returns the posts of userID, newest first.
func (s *PostService) List(ctx context.Context, userID string) ([]models.PostView, error) {
	posts, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list posts", slog.String("user_id", userID), slog.String("error", err.Error()))
		return nil, models.ErrInternalServer
	}

	views := make([]models.PostView, 0, len(posts))
	for _, p := range posts {
		views = append(views, toView(p))
	}
	return views, nil
}

// Delete removes a post of userID. Other users' posts are ErrNotFound.
func (s *PostService) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to delete post", slog.String("user_id", userID), slog.String("error", err.Error()))
		return models.ErrInternalServer
	}
	return nil
}

// Watch sends the full post list of userID once and again after every
// change, until ctx is done or send fails.
func (s *PostService) Watch(ctx context.Context, userID string, send func([]models.PostView) error) error {
	changes, cancel := s.watcher.Subscribe(userID)
	defer cancel()

	s.metrics.StreamOpened()
	defer s.metrics.StreamClosed()

	for {
		views, err := s.List(ctx, userID)
		if err != nil {
			return err
		}
		if err := send(views); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		}
	}
}
