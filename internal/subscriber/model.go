package subscriber

import (
	"time"

	"github.com/lib/pq"
)

type Subscriber struct {
	ID     uint64 `gorm:"primaryKey"`
	Email  string `gorm:"uniqueIndex;not null"`
	Active bool   `gorm:"index;not null;default:true"`

	// Topics is editorial metadata for the admin UI; the delivery core
	// only looks at Active.
	Topics pq.StringArray `gorm:"type:text[];not null;default:'{}'"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
