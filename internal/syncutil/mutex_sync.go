//go:build !deadlock

// Package syncutil provides the mutex used by types shared between a bus
// and its observers. Building with -tags=deadlock enables lock order and
// timeout detection via github.com/sasha-s/go-deadlock.
package syncutil

import "sync"

type Mutex struct {
	sync.Mutex
}
