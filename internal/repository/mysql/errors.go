package mysql

import (
	"context"
	"errors"
	"fmt"

	"order-engine/internal/domain"

	mysqldriver "github.com/go-sql-driver/mysql"
)

const (
	errDuplicateEntry = 1062
	errLockWait       = 1205
	errDeadlock       = 1213
)

// mapError turns driver failures into domain errors. Anything else passes
// through untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var me *mysqldriver.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case errDeadlock, errLockWait:
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrStorageTimeout, err)
	}
	return err
}

func isDuplicate(err error) bool {
	var me *mysqldriver.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}
