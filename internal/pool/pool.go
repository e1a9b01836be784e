// Package pool bounds how many CPU-heavy jobs run at once.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
)

// ErrBusy is returned when ctx ends while waiting for a free slot. It wraps
// ctx.Err(), so errors.Is against the context errors still matches.
var ErrBusy = errors.New("pool: no free slot")

// OptimalSize returns 3/4 of the available CPUs, at least 1. Image work saturates a
// core per job, so leaving headroom keeps the HTTP side responsive.
func OptimalSize() int {
	return max(1, runtime.NumCPU()*3/4)
}

// Pool is a counting semaphore. The zero value is not usable; call New.
type Pool struct {
	sem chan struct{}
}

// New returns a pool running at most size jobs at once. size <= 0 means OptimalSize().
func New(size int) *Pool {
	if size <= 0 {
		size = OptimalSize()
	}
	return &Pool{sem: make(chan struct{}, size)}
}

func (p *Pool) Size() int { return cap(p.sem) }

// InUse reports how many slots are taken right now.
func (p *Pool) InUse() int { return len(p.sem) }

type outcome[T any] struct {
	val T
	err error
}

// Do runs fn once a slot is free and waits for its result. If ctx ends before a
// slot frees up, Do returns ErrBusy. If it ends while fn runs, Do returns ctx.Err()
// immediately and the job keeps its slot until fn returns. A panic in fn is returned as an error.
func Do[T any](ctx context.Context, p *Pool, fn func() T) (T, error) {
	var zero T
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %w", ErrBusy, ctx.Err())
	}

	done := make(chan outcome[T], 1)
	go func() {
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: fmt.Errorf("pool: job panicked: %v", r)}
			}
		}()
		done <- outcome[T]{val: fn()}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
