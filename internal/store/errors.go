package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rajeevramani/flowplane/internal/errs"
)

var (
	errBackend = errs.Backend
)

// translateWriteErr maps a driver-level error from an insert/update into
// the repository error taxonomy. SQLite and pgx report constraint
// violations with different error types, so this inspects the message text
// rather than asserting driver-specific types — both drivers' constraint
// errors reliably contain "UNIQUE", "FOREIGN KEY", or "violates" in their
// Error() text.
func translateWriteErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique"), strings.Contains(msg, "duplicate"):
		return fmt.Errorf("%w: %v", errs.Conflict, err)
	case strings.Contains(msg, "foreign key"), strings.Contains(msg, "violates foreign key"):
		return fmt.Errorf("%w: %v", errs.Conflict, err)
	case strings.Contains(msg, "constraint"):
		return fmt.Errorf("%w: %v", errs.Conflict, err)
	default:
		return fmt.Errorf("%w: %v", errs.Backend, err)
	}
}

// ErrNotFound reports whether err indicates a missing row.
func ErrNotFound(err error) bool {
	return errors.Is(err, errs.NotFound)
}
