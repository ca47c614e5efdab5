package content

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("article not found")

type Store struct {
	DB *gorm.DB
}

func (s *Store) Get(ctx context.Context, id uint64) (*Article, error) {
	var a Article
	if err := s.DB.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// SetPublished stamps published_at only if it is still unset. The first
// channel to publish wins; later channels are a no-op here.
func (s *Store) SetPublished(ctx context.Context, id uint64, now time.Time) error {
	return s.DB.WithContext(ctx).Model(&Article{}).
		Where("id = ? AND published_at IS NULL", id).
		Updates(map[string]any{"published_at": now, "updated_at": now}).Error
}
