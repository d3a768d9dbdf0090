package firestore

import (
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
)

func notFoundError(op string, message string) error {
	return pfirestore.NotFound(op, message)
}

func isNotFound(err error) bool {
	return pfirestore.IsNotFound(err)
}
