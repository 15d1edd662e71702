package fsdb

import "errors"

// ErrInvalidInput indicates invalid configuration or arguments.
var ErrInvalidInput = errors.New("fsdb: invalid input")
