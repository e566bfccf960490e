package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConditionalUnsupported is returned when the server lacks the
// compare-and-set routine.
var ErrConditionalUnsupported = errors.New("conditional update not supported by server")

const pgUndefinedFunction = "42883"

// mapError folds driver errors into the client's sentinel errors. Anything
// that means "the server could not be reached" becomes common.ErrUnavailable
// so callers can queue instead of failing.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return common.ErrorNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUndefinedFunction:
			return fmt.Errorf("%w: %s", ErrConditionalUnsupported, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"),
			pgErr.Code == "57P01", pgErr.Code == "57P03":
			return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
		}
		return fmt.Errorf("db error: %w", err)
	}

	if unreachable(err) {
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	return fmt.Errorf("db error: %w", err)
}

func unreachable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
