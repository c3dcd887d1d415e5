package task

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Completion is the single completion signal of a step. Immediate and
// deferred work look the same to whoever waits on it.
type Completion struct {
	done chan struct{}
	once sync.Once
	err  error
}

func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Succeeded returns a Completion that has already finished successfully.
func Succeeded() *Completion {
	c := NewCompletion()
	c.Finish(nil)
	return c
}

// Failed returns a Completion that has already failed with err.
func Failed(err error) *Completion {
	c := NewCompletion()
	c.Finish(err)
	return c
}

// Run calls fn synchronously and wraps its result.
func Run(fn func() error) *Completion {
	c := NewCompletion()
	c.Finish(guard(fn))
	return c
}

// Go runs fn on its own goroutine; the Completion fires when fn returns.
func Go(fn func() error) *Completion {
	c := NewCompletion()
	go func() {
		c.Finish(guard(fn))
	}()
	return c
}

// Finish records the outcome. Only the first call has an effect.
func (c *Completion) Finish(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the Completion fires and returns its error.
func (c *Completion) Wait() error {
	<-c.done
	return c.err
}

// Err returns the outcome without blocking; nil while still pending.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
