package filecache

import "errors"

// ErrIO means a local disk write or rename failed. Logged by the caller;
// the HTTP layer surfaces it as 500.
var ErrIO = errors.New("io error")
