package db

import (
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Operation is a function that performs an action and returns an error if it fails.
type Operation func() error

const DefaultMaxRetries = 3

// Try executes an operation with default retry settings for duplicate key errors.
// Used for inserts whose _id is generated client-side: a random SixID collision
// is resolved by regenerating inside the operation and trying again.
func Try(op Operation) error {
	return WithRetries(op, DefaultMaxRetries, mongo.IsDuplicateKeyError)
}

// WithRetries executes an operation, retrying up to maxRetries additional times
// while isRetryable reports the error as retryable. Any other error returns
// immediately.
func WithRetries(op Operation, maxRetries int, isRetryable func(err error) bool) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		if !isRetryable(err) {
			return err
		}
		time.Sleep(time.Duration(50*(attempt+1)) * time.Millisecond)
	}
	return err
}
