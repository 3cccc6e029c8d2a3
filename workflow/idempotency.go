package workflow

import (
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/kasirhub/pos_backend/models"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// BeginIdempotency inserts STARTED for (business, handler, message). If the
// key was already applied it returns applied=true with the recorded reference
// id, meaning "return the original result, do not redo the work".
func BeginIdempotency(tx *gorm.DB, businessId, handlerName, messageId string) (applied bool, referenceId int, err error) {
	key := models.IdempotencyKey{
		BusinessId:  businessId,
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := tx.Create(&key).Error; err == nil {
		return false, 0, nil
	} else if !isDuplicateKeyErr(err) {
		return false, 0, err
	}

	var existing models.IdempotencyKey
	if err := tx.Where("business_id = ? AND handler_name = ? AND message_id = ?", businessId, handlerName, messageId).
		First(&existing).Error; err != nil {
		return false, 0, err
	}

	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return true, existing.ReferenceId, nil
	case models.IdempotencyStatusStarted:
		// Another submission of the same key is mid-flight. A stale row
		// (crashed worker) may be taken over; a fresh one asks the client to
		// retry later.
		if time.Since(existing.UpdatedAt) < 5*time.Minute {
			return false, 0, ErrIdempotencyInProgress
		}
		return false, 0, takeOverIdempotencyKey(tx, &existing)
	default:
		return false, 0, takeOverIdempotencyKey(tx, &existing)
	}
}

// takeOverIdempotencyKey flips an abandoned or failed row back to STARTED.
// The guard on the previously observed status and timestamp lets exactly one
// of several concurrent resubmissions win the takeover; the rest are told the
// key is busy and must retry later.
func takeOverIdempotencyKey(tx *gorm.DB, existing *models.IdempotencyKey) error {
	res := tx.Model(&models.IdempotencyKey{}).
		Where("id = ? AND status = ? AND updated_at = ?", existing.ID, existing.Status, existing.UpdatedAt).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrIdempotencyInProgress
	}
	return nil
}

func MarkIdempotencySucceeded(tx *gorm.DB, businessId, handlerName, messageId string, referenceId int) error {
	return tx.Model(&models.IdempotencyKey{}).
		Where("business_id = ? AND handler_name = ? AND message_id = ?", businessId, handlerName, messageId).
		Updates(map[string]interface{}{
			"status":       models.IdempotencyStatusSucceeded,
			"reference_id": referenceId,
			"last_error":   nil,
		}).Error
}

func MarkIdempotencyFailed(tx *gorm.DB, businessId, handlerName, messageId string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return tx.Model(&models.IdempotencyKey{}).
		Where("business_id = ? AND handler_name = ? AND message_id = ?", businessId, handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}
