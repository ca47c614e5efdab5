package db

import (
	"fmt"

	"praxis/internal/auth"
	"praxis/internal/content"
	"praxis/internal/mailer"
	"praxis/internal/publication"
	"praxis/internal/subscriber"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&content.Article{},
		&subscriber.Subscriber{},
		&publication.Publication{},
		&mailer.EmailLog{},
		&mailer.EmailDeliveryAttempt{},
		&auth.User{},
	); err != nil {
		return err
	}

	// Due scan: published_at IS NULL AND scheduled_at <= now.
	// Partial index keeps it small once history accumulates.
	if err := gdb.Exec(`
create index if not exists idx_publications_due
on publications(scheduled_at)
where published_at is null;
`).Error; err != nil {
		return err
	}

	// At most one sent row per (article, recipient). The delivery
	// dedup logic assumes this; enforce it at the store.
	if err := gdb.Exec(`
create unique index if not exists uq_email_logs_sent
on email_logs(article_id, email)
where status = 'sent';
`).Error; err != nil {
		return err
	}

	stmts := []string{
		`create index if not exists idx_publications_lease on publications(lease_holder, lease_expires_at);`,
		`create index if not exists idx_email_logs_article_status on email_logs(article_id, status);`,
		`create index if not exists idx_subscribers_active on subscribers(active, email);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
