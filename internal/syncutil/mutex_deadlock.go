//go:build deadlock

// Package syncutil provides the mutex used by types shared between a bus
// and its observers. Building with -tags=deadlock enables lock order and
// timeout detection.
package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

type Mutex struct {
	deadlock.Mutex
}
