package mailer

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	DB *gorm.DB
}

// SentRecipients returns every email with a sent row for the article.
func (r *Repo) SentRecipients(ctx context.Context, articleID uint64) ([]string, error) {
	var emails []string
	err := r.DB.WithContext(ctx).Model(&EmailLog{}).
		Where("article_id = ? AND status = ?", articleID, LogSent).
		Pluck("email", &emails).Error
	return emails, err
}

func (r *Repo) HasHistory(ctx context.Context, articleID uint64) (bool, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&EmailLog{}).
		Where("article_id = ?", articleID).
		Count(&n).Error
	return n > 0, err
}

func (r *Repo) CountSent(ctx context.Context, articleID uint64) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&EmailLog{}).
		Where("article_id = ? AND status = ?", articleID, LogSent).
		Count(&n).Error
	return n, err
}

// DeleteFailed removes stale failed rows for the recipients about to be
// re-attempted, so a later success is the only row that survives.
func (r *Repo) DeleteFailed(ctx context.Context, articleID uint64, emails []string) error {
	if len(emails) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).
		Where("article_id = ? AND status = ? AND email IN ?", articleID, LogFailed, emails).
		Delete(&EmailLog{}).Error
}

// RecordOutcomes inserts one row per recipient with the batch outcome.
// An override send may target a recipient who already has a sent row;
// the conflict clause keeps that row unique instead of duplicating it.
func (r *Repo) RecordOutcomes(ctx context.Context, articleID uint64, emails []string, status string, at time.Time) error {
	if len(emails) == 0 {
		return nil
	}
	rows := make([]EmailLog, 0, len(emails))
	for _, e := range emails {
		rows = append(rows, EmailLog{
			ArticleID: articleID,
			Email:     e,
			Status:    status,
			SentAt:    at,
		})
	}
	return r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, 500).Error
}

// UpsertAttempt writes the attempt keyed by attempt_id; a repeated
// attempt id overwrites status, count and error in place.
func (r *Repo) UpsertAttempt(ctx context.Context, a *EmailDeliveryAttempt) error {
	a.UpdatedAt = time.Now()
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "attempt_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "recipient_count", "error_message", "updated_at",
		}),
	}).Create(a).Error
}

// FinalizeAttempt moves an attempt out of "sending".
func (r *Repo) FinalizeAttempt(ctx context.Context, attemptID, status string, errMsg *string) error {
	return r.DB.WithContext(ctx).Model(&EmailDeliveryAttempt{}).
		Where("attempt_id = ?", attemptID).
		Updates(map[string]any{
			"status":        status,
			"error_message": errMsg,
			"updated_at":    time.Now(),
		}).Error
}

func (r *Repo) GetAttempt(ctx context.Context, attemptID string) (*EmailDeliveryAttempt, error) {
	var a EmailDeliveryAttempt
	if err := r.DB.WithContext(ctx).First(&a, "attempt_id = ?", attemptID).Error; err != nil {
		return nil, err
	}
	return &a, nil
}
