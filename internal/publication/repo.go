package publication

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repo is the lease store. Every mutation is a single conditional
// UPDATE; there is no read-then-write anywhere in the lease protocol.
type Repo struct {
	DB *gorm.DB
}

func (r *Repo) Create(ctx context.Context, p *Publication) error {
	return r.DB.WithContext(ctx).Create(p).Error
}

func (r *Repo) Get(ctx context.Context, id uint64) (*Publication, error) {
	var p Publication
	if err := r.DB.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) ListByContent(ctx context.Context, contentID uint64) ([]Publication, error) {
	var pubs []Publication
	err := r.DB.WithContext(ctx).
		Where("content_id = ?", contentID).
		Order("id").
		Find(&pubs).Error
	return pubs, err
}

// SweepExpiredLeases reclaims leases whose TTL has passed, returning
// the number of rows cleared. Runs before every discovery scan.
func (r *Repo) SweepExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&Publication{}).
		Where("lease_expires_at IS NOT NULL AND lease_expires_at < ?", now).
		Updates(map[string]any{
			"lease_holder":     nil,
			"lease_expires_at": nil,
			"updated_at":       now,
		})
	return res.RowsAffected, res.Error
}

// FindDue returns every unpublished publication whose schedule has
// arrived, leased or not. One query per tick; the caller groups by
// content id.
func (r *Repo) FindDue(ctx context.Context, now time.Time) ([]Publication, error) {
	var pubs []Publication
	err := r.DB.WithContext(ctx).
		Where("published_at IS NULL AND (scheduled_at IS NULL OR scheduled_at <= ?)", now).
		Order("id").
		Find(&pubs).Error
	return pubs, err
}

// LeaseBatch claims the subset of ids that are still unheld. The WHERE
// predicate is the mutual-exclusion primitive: when two holders race on
// the same ids, the row-atomic UPDATE lets each row be won exactly
// once. Expired holders are not stolen here; the sweep clears them
// first.
func (r *Repo) LeaseBatch(ctx context.Context, ids []uint64, holder string, ttl time.Duration, now time.Time) ([]Publication, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	res := r.DB.WithContext(ctx).Model(&Publication{}).
		Where("id IN ? AND lease_holder IS NULL AND published_at IS NULL", ids).
		Updates(map[string]any{
			"lease_holder":     holder,
			"lease_expires_at": now.Add(ttl),
			"updated_at":       now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	var won []Publication
	err := r.DB.WithContext(ctx).
		Where("id IN ? AND lease_holder = ?", ids, holder).
		Order("id").
		Find(&won).Error
	return won, err
}

// Release clears the lease without touching published_at, making the
// publication leasable again.
func (r *Repo) Release(ctx context.Context, id uint64) error {
	return r.DB.WithContext(ctx).Model(&Publication{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"lease_holder":     nil,
			"lease_expires_at": nil,
			"updated_at":       time.Now(),
		}).Error
}

// MarkDone stamps published_at and drops the lease in one update.
func (r *Repo) MarkDone(ctx context.Context, id uint64, now time.Time) error {
	return r.DB.WithContext(ctx).Model(&Publication{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at":     now,
			"lease_holder":     nil,
			"lease_expires_at": nil,
			"updated_at":       now,
		}).Error
}

// ClearPublished reopens a terminal publication for another run. This
// is the only way a published row becomes due again.
func (r *Repo) ClearPublished(ctx context.Context, id uint64) error {
	return r.DB.WithContext(ctx).Model(&Publication{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at":     nil,
			"lease_holder":     nil,
			"lease_expires_at": nil,
			"updated_at":       time.Now(),
		}).Error
}
