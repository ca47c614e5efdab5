package mailer

import "time"

const (
	AttemptSending = "sending"
	AttemptSuccess = "success"
	AttemptFailed  = "failed"

	LogSent   = "sent"
	LogFailed = "failed"
)

// EmailDeliveryAttempt records one logical send. AttemptID is a
// client-generated idempotency key; recording the same attempt twice
// upserts the existing row.
type EmailDeliveryAttempt struct {
	ID            uint64 `gorm:"primaryKey"`
	AttemptID     string `gorm:"uniqueIndex;not null"`
	ArticleID     uint64 `gorm:"index;not null"`
	PublicationID uint64 `gorm:"index"`

	Status         string `gorm:"not null"`
	RecipientCount int    `gorm:"not null;default:0"`
	ErrorMessage   *string

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// EmailLog is the append-only per-recipient outcome. A sent row for
// (article_id, email) is the sole source of truth that the recipient
// received the article; delivery summaries are counted from here,
// never from memory.
type EmailLog struct {
	ID        uint64 `gorm:"primaryKey"`
	ArticleID uint64 `gorm:"index:idx_email_logs_article_email;not null"`
	Email     string `gorm:"index:idx_email_logs_article_email;not null"`
	Status    string `gorm:"not null"`
	SentAt    time.Time
}
