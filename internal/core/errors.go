package core

import (
	"errors"
	"fmt"
)

// The error taxonomy drives retry behaviour and HTTP mapping:
//
//   ValidationError: bad upload input, surfaced synchronously (HTTP 400).
//   AdapterError:    content could not be extracted; terminal, never retried.
//   StorageError:    embedding / vector store / queue failure; retried by
//                    queue redelivery up to the attempts cap.

// ValidationError reports rejected upload input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// AdapterError reports a terminal extraction failure for one job.
type AdapterError struct {
	Filename string
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter: %s: %v", e.Filename, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// StorageError reports a retryable embedding or persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrNoContent is wrapped by AdapterError when extraction yields no text.
var ErrNoContent = errors.New("no extractable content")

// Retryable reports whether the queue should redeliver a job that failed
// with err. Adapter failures are terminal; everything else gets another try.
func Retryable(err error) bool {
	var ae *AdapterError
	return !errors.As(err, &ae)
}
