package db

import (
	"strings"

	"github.com/teranos/janus/errors"
)

// ErrClosed marks writes that reached the journal database after shutdown.
var ErrClosed = errors.New("journal database is closed")

// IsClosed reports whether err came from a closed handle. database/sql
// returns a plain error for this case, so the message is matched as well.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrClosed) || strings.Contains(err.Error(), "database is closed")
}
