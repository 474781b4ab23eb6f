package partner

import (
	"context"
	"errors"
	"fmt"
)

// Directory abstracts repository operations for the service.
type Directory interface {
	Create(ctx context.Context, params RegisterParams) (Partner, error)
	GetByID(ctx context.Context, id string) (Partner, error)
	GetByUserID(ctx context.Context, userID string) (Partner, error)
	ListActive(ctx context.Context) ([]Partner, error)
	UpdateStatus(ctx context.Context, id string, status Status) (Partner, error)
	AddReview(ctx context.Context, review Review) (Review, error)
	ListReviews(ctx context.Context, partnerID string, limit int) ([]Review, error)
}

var (
	// ErrInvalidRating signals a rating outside 1..5.
	ErrInvalidRating = errors.New("partner: rating must be between 1 and 5")
	// ErrNotActive signals an operation requiring an active partner account.
	ErrNotActive = errors.New("partner: account is not active")
)

// Service exposes business-level partner operations.
type Service struct {
	repo Directory
}

// NewService builds a Service using the provided repository.
func NewService(repo Directory) *Service {
	return &Service{repo: repo}
}

// Register creates a pending partner account awaiting admin activation.
func (s *Service) Register(ctx context.Context, params RegisterParams) (Partner, error) {
	if params.UserID == "" {
		return Partner{}, fmt.Errorf("partner: missing user id")
	}
	if params.CompanyName == "" || params.Phone == "" {
		return Partner{}, fmt.Errorf("partner: company name and phone are required")
	}
	return s.repo.Create(ctx, params)
}

// GetByID returns the partner profile for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Partner, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByUserID returns the partner account owned by the user.
func (s *Service) GetByUserID(ctx context.Context, userID string) (Partner, error) {
	return s.repo.GetByUserID(ctx, userID)
}

// ListActive returns the fan-out audience for new quote requests.
func (s *Service) ListActive(ctx context.Context) ([]Partner, error) {
	return s.repo.ListActive(ctx)
}

// Activate flips a partner to active. Admin-gated at the API layer.
func (s *Service) Activate(ctx context.Context, id string) (Partner, error) {
	return s.repo.UpdateStatus(ctx, id, StatusActive)
}

// Suspend flips a partner to suspended. Admin-gated at the API layer.
func (s *Service) Suspend(ctx context.Context, id string) (Partner, error) {
	return s.repo.UpdateStatus(ctx, id, StatusSuspended)
}

// AddReview records a customer review and refreshes the rating aggregates.
func (s *Service) AddReview(ctx context.Context, review Review) (Review, error) {
	if review.Rating < 1 || review.Rating > 5 {
		return Review{}, ErrInvalidRating
	}
	if review.OrderID == "" || review.PartnerID == "" || review.UserID == "" {
		return Review{}, fmt.Errorf("partner: review requires order, partner, and user ids")
	}
	return s.repo.AddReview(ctx, review)
}

// IsActivePartner reports whether the partner exists and is active. The
// quote service uses this as its submission gate.
func (s *Service) IsActivePartner(ctx context.Context, partnerID string) (bool, error) {
	p, err := s.repo.GetByID(ctx, partnerID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Status == StatusActive, nil
}

// ListReviews returns up to limit reviews for the partner.
func (s *Service) ListReviews(ctx context.Context, partnerID string, limit int) ([]Review, error) {
	return s.repo.ListReviews(ctx, partnerID, limit)
}
