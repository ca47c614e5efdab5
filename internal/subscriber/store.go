package subscriber

import (
	"context"

	"gorm.io/gorm"
)

type Store struct {
	DB *gorm.DB
}

// ListActive returns the emails of every active subscriber, ordered so
// repeated calls resolve the same recipient set in the same order.
func (s *Store) ListActive(ctx context.Context) ([]string, error) {
	var emails []string
	err := s.DB.WithContext(ctx).Model(&Subscriber{}).
		Where("active = ?", true).
		Order("email").
		Pluck("email", &emails).Error
	return emails, err
}

func (s *Store) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&Subscriber{}).
		Where("active = ?", true).
		Count(&n).Error
	return n, err
}
