package manifest

import "errors"

var (
	// ErrDuplicateVideoID indicates two records share a video id.
	ErrDuplicateVideoID = errors.New("duplicate video id in manifest")
	// ErrRecordNotFound indicates no record exists for a video id.
	ErrRecordNotFound = errors.New("record not found in manifest")
)
