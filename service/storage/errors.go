package storage

import "fmt"

// Error reports a failed upload or metadata fetch.
type Error struct {
	Op  string // upload_binary, upload_json, fetch_metadata
	URI string
	Err error
}

func (e *Error) Error() string {
	if e.URI != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.URI, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
