package netdetect

import "errors"

var ErrNotInitialized = errors.New("netdetect: not initialized")
