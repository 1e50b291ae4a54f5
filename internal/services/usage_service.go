package services

import (
	"context"
	"time"

	"github.com/yoockh/yoodocs/internal/models"
	mongorepo "github.com/yoockh/yoodocs/internal/repositories/mongo"
	"github.com/yoockh/yoodocs/internal/utils"
)

type UserUsage struct {
	UserID     string            `json:"user_id"`
	TotalCalls int64             `json:"total_calls"`
	Recent     []models.APIUsage `json:"recent_usage"`
}

type UsageService interface {
	Record(ctx context.Context, u *models.APIUsage) error
	Summary(ctx context.Context, days int) ([]models.EndpointUsage, error)
	ForUser(ctx context.Context, userID string, limit int) (*UserUsage, error)
}

type usageService struct {
	repo mongorepo.UsageRepository
	now  func() time.Time
}

func NewUsageService(repo mongorepo.UsageRepository) UsageService {
	return &usageService{repo: repo, now: time.Now}
}

func (s *usageService) Record(ctx context.Context, u *models.APIUsage) error {
	if u.Endpoint == "" {
		return nil
	}
	return s.repo.Insert(ctx, u)
}

func (s *usageService) Summary(ctx context.Context, days int) ([]models.EndpointUsage, error) {
	const op = "UsageService.Summary"

	if days <= 0 {
		days = 7
	}
	since := s.now().UTC().AddDate(0, 0, -days)
	rows, err := s.repo.Summary(ctx, since, 50)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to aggregate usage", err)
	}
	return rows, nil
}

// ForUser returns the user's call count and their latest requests.
func (s *usageService) ForUser(ctx context.Context, userID string, limit int) (*UserUsage, error) {
	const op = "UsageService.ForUser"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user id is required", nil)
	}
	if limit <= 0 {
		limit = 100
	}
	total, err := s.repo.CountSince(ctx, userID, time.Time{})
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to count usage", err)
	}
	recent, err := s.repo.RecentByUser(ctx, userID, int64(limit))
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to list usage", err)
	}
	return &UserUsage{UserID: userID, TotalCalls: total, Recent: recent}, nil
}

// NoopUsage is used when Mongo is not configured.
type NoopUsage struct{}

func (NoopUsage) Record(context.Context, *models.APIUsage) error { return nil }

func (NoopUsage) Summary(context.Context, int) ([]models.EndpointUsage, error) {
	return []models.EndpointUsage{}, nil
}

func (NoopUsage) ForUser(_ context.Context, userID string, _ int) (*UserUsage, error) {
	return &UserUsage{UserID: userID, Recent: []models.APIUsage{}}, nil
}
