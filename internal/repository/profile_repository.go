package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/domain"

	"github.com/google/uuid"
)

var ErrProfileNotFound = errors.New("profile not found")

// ProfileRepository defines the interface for user profile data access
type ProfileRepository interface {
	FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error)
	Upsert(ctx context.Context, profile *domain.UserProfile) error
}

type profileRepository struct {
	db DBTX
}

// NewProfileRepository creates a new instance of ProfileRepository
func NewProfileRepository(db DBTX) ProfileRepository {
	return &profileRepository{db: db}
}

// FindByUserID retrieves the profile belonging to userID
func (r *profileRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error) {
	query := `
		SELECT user_id, address, phone, updated_at
		FROM user_profiles
		WHERE user_id = $1
	`

	profile := &domain.UserProfile{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.Address,
		&profile.Phone,
		&profile.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}

	return profile, nil
}

// Upsert creates or replaces the profile for profile.UserID
func (r *profileRepository) Upsert(ctx context.Context, profile *domain.UserProfile) error {
	query := `
		INSERT INTO user_profiles (user_id, address, phone)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET address = EXCLUDED.address, phone = EXCLUDED.phone, updated_at = now()
		RETURNING updated_at
	`

	err := r.db.QueryRowContext(ctx, query, profile.UserID, profile.Address, profile.Phone).
		Scan(&profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	return nil
}
