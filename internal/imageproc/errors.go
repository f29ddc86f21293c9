package imageproc

import "fmt"

// FetchError means the source image could not be retrieved.
type FetchError struct {
	Ref string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch image %s: %v", e.Ref, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MetadataError means the bytes were retrieved but are not a readable image.
type MetadataError struct {
	Ref string
	Err error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("read image metadata %s: %v", e.Ref, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }
