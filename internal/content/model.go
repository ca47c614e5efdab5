package content

import "time"

// Article is owned by the editorial side of the app. The publishing
// core reads title/body/image and stamps PublishedAt exactly once.
type Article struct {
	ID          uint64  `gorm:"primaryKey"`
	Title       string  `gorm:"not null"`
	Body        string  `gorm:"type:text;not null"`
	ImageURL    *string `gorm:"type:text"`
	PublishedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
