package publication

import "time"

type Channel string

const (
	ChannelWebsite  Channel = "website"
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelOther    Channel = "other"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelWebsite, ChannelEmail, ChannelWhatsApp, ChannelOther:
		return true
	}
	return false
}

// Publication is one article/channel pairing. ScheduledAt nil means
// "as soon as possible"; PublishedAt set means terminal until a retry
// explicitly clears it together with the lease fields.
type Publication struct {
	ID        uint64  `gorm:"primaryKey"`
	ContentID uint64  `gorm:"index;not null"`
	Channel   Channel `gorm:"type:text;not null"`

	ScheduledAt *time.Time `gorm:"index"`
	PublishedAt *time.Time `gorm:"index"`

	LeaseHolder    *string `gorm:"type:text"`
	LeaseExpiresAt *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// Due reports whether the publication should be picked up at now.
func (p *Publication) Due(now time.Time) bool {
	if p.PublishedAt != nil {
		return false
	}
	return p.ScheduledAt == nil || !p.ScheduledAt.After(now)
}
