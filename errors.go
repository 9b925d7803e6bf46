package fencore

import "errors"

// ErrClosed is returned by Add/Remove once Close has run.
var ErrClosed = errors.New("fencore: engine closed")
