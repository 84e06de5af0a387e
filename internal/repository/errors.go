package repository

import (
	"errors"

	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// nullJSON keeps empty documents as SQL NULL instead of an empty string,
// which json columns reject.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
