// Package task runs background work whose completion can be observed.
// Uploads are fire-and-forget in production; tests and shutdown paths wait
// on them through Done or a Group.
package task

import "sync"

// Task is a unit of background work producing a T.
type Task[T any] struct {
	done   chan struct{}
	result T
}

// Go runs fn on a new goroutine.
func Go[T any](fn func() T) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.result = fn()
	}()
	return t
}

// Done is closed when the work has finished.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Wait blocks until the work has finished and returns its result.
func (t *Task[T]) Wait() T {
	<-t.done
	return t.result
}

// Result returns the result if the work has finished.
func (t *Task[T]) Result() (T, bool) {
	select {
	case <-t.done:
		return t.result, true
	default:
		var zero T
		return zero, false
	}
}

// Group tracks a set of in-flight tasks.
type Group struct {
	wg sync.WaitGroup
}

// Track starts fn as a task whose completion g.Wait observes.
func Track[T any](g *Group, fn func() T) *Task[T] {
	g.wg.Add(1)
	t := Go(fn)
	go func() {
		<-t.done
		g.wg.Done()
	}()
	return t
}

// Wait blocks until every task started through the group has finished.
func (g *Group) Wait() {
	g.wg.Wait()
}
