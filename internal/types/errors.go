package types

import "errors"

var (
	ErrNoPublication = errors.New("publication not found")
	ErrDocExists     = errors.New("document already exists")
	ErrDocNotFound   = errors.New("document not found")
	ErrStoreClosed   = errors.New("store is closed")
)
