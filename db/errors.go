package db

import (
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrNotFound is returned by point reads that match no document.
var ErrNotFound = errors.New("document not found")

// ResultsNotFound reports whether err indicates a missing document.
func ResultsNotFound(err error) bool {
	if err == nil {
		return false
	}
	cause := errors.Cause(err)

	return cause == ErrNotFound || cause == mongo.ErrNoDocuments
}

func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}

	if mongo.IsDuplicateKeyError(errors.Cause(err)) {
		return true
	}

	return strings.Contains(errors.Cause(err).Error(), "duplicate key")
}

// IsOnlyDuplicateKeys reports whether every failure in a bulk write was a
// duplicate key error.
func IsOnlyDuplicateKeys(err error) bool {
	if err == nil {
		return false
	}

	var bulkErr mongo.BulkWriteException
	if !errors.As(err, &bulkErr) {
		return IsDuplicateKey(err)
	}
	if bulkErr.WriteConcernError != nil || len(bulkErr.WriteErrors) == 0 {
		return false
	}
	for _, writeErr := range bulkErr.WriteErrors {
		if writeErr.Code != 11000 && writeErr.Code != 11001 && writeErr.Code != 12582 {
			return false
		}
	}

	return true
}
