package wal

import "errors"

var errClosed = errors.New("wal: writer is closed")
