package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/juju/mutex/v2"
)

const (
	lockName    = "isktreon"
	lockDelay   = 100 * time.Millisecond
	lockTimeout = 250 * time.Millisecond
)

var errAlreadyRunning = errors.New("another instance is already running")

type realtime struct{}

func (r realtime) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (r realtime) Now() time.Time {
	return time.Now()
}

// acquireLock ensures only one instance works with the local database at a time.
func acquireLock() (mutex.Releaser, error) {
	r, err := mutex.Acquire(mutex.Spec{
		Name:    lockName,
		Clock:   realtime{},
		Delay:   lockDelay,
		Timeout: lockTimeout,
	})
	if errors.Is(err, mutex.ErrTimeout) {
		return nil, errAlreadyRunning
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return r, nil
}
