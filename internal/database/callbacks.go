package database

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	operationKey = "metrics:operation"
	startTimeKey = "metrics:start_time"
)

// QueryRecorder records the duration and outcome of each statement
type QueryRecorder interface {
	RecordDBQuery(operation, table string, duration time.Duration, err error)
}

// WithOperation labels the statements run through db. Statements without a
// label are recorded under their verb (select, insert, update, delete).
func WithOperation(db *gorm.DB, operation string) *gorm.DB {
	return db.Set(operationKey, operation)
}

// RegisterMetricsCallbacks registers GORM callbacks that time every statement
func RegisterMetricsCallbacks(db *gorm.DB, recorder QueryRecorder) error {
	start := func(tx *gorm.DB) {
		tx.InstanceSet(startTimeKey, time.Now())
	}
	record := func(verb string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			started, ok := tx.InstanceGet(startTimeKey)
			if !ok {
				return
			}
			operation := verb
			if op, ok := tx.Get(operationKey); ok {
				if s, ok := op.(string); ok && s != "" {
					operation = s
				}
			}
			table := tx.Statement.Table
			if table == "" {
				table = "unknown"
			}
			recorder.RecordDBQuery(operation, table, time.Since(started.(time.Time)), tx.Error)
		}
	}

	cb := db.Callback()
	return errors.Join(
		cb.Query().Before("gorm:query").Register("metrics:query_before", start),
		cb.Query().After("gorm:query").Register("metrics:query_after", record("select")),
		cb.Create().Before("gorm:create").Register("metrics:create_before", start),
		cb.Create().After("gorm:create").Register("metrics:create_after", record("insert")),
		cb.Update().Before("gorm:update").Register("metrics:update_before", start),
		cb.Update().After("gorm:update").Register("metrics:update_after", record("update")),
		cb.Delete().Before("gorm:delete").Register("metrics:delete_before", start),
		cb.Delete().After("gorm:delete").Register("metrics:delete_after", record("delete")),
	)
}
