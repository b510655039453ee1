package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-leave-api/internal/models"
	"github.com/noah-isme/campus-leave-api/pkg/cache"
	appErrors "github.com/noah-isme/campus-leave-api/pkg/errors"
)

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

// ProfileService serves student profiles from the cache, falling back to the database.
type ProfileService struct {
	students studentReader
	cache    *CacheService
	logger   *zap.Logger
}

// NewProfileService constructs the service. cache may be nil.
func NewProfileService(students studentReader, cache *CacheService, logger *zap.Logger) *ProfileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileService{students: students, cache: cache, logger: logger}
}

// Get returns the profile for studentID. Cache failures degrade to a database read.
func (s *ProfileService) Get(ctx context.Context, studentID string) (*models.StudentProfile, error) {
	key := cache.ProfileKey(studentID)
	var cached models.StudentProfile
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	profile := student.Profile()
	_ = s.cache.Set(ctx, key, profile, 0)
	return &profile, nil
}

// Invalidate drops cached profiles for the given students.
func (s *ProfileService) Invalidate(ctx context.Context, studentIDs ...string) {
	if len(studentIDs) == 0 {
		return
	}
	keys := make([]string, len(studentIDs))
	for i, id := range studentIDs {
		keys[i] = cache.ProfileKey(id)
	}
	_ = s.cache.Invalidate(ctx, keys...)
}
