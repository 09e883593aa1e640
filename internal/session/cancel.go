package session

import "sync"

// Cancellable stops something. Implementations must be idempotent.
type Cancellable interface {
	Cancel()
}

type funcCancel struct {
	once sync.Once
	fn   func()
}

func (f *funcCancel) Cancel() { f.once.Do(f.fn) }

// OnCancel wraps fn so that it runs at most once however often Cancel is
// called.
func OnCancel(fn func()) Cancellable {
	return &funcCancel{fn: fn}
}

// Composite cancels a group of children together. The first Cancel cancels
// every child once; later calls do nothing. Children added after that are
// cancelled as they are added.
type Composite struct {
	mu        sync.Mutex
	children  []Cancellable
	cancelled bool
}

func NewComposite(children ...Cancellable) *Composite {
	return &Composite{children: children}
}

// Add links child to the group.
func (c *Composite) Add(child Cancellable) {
	c.mu.Lock()
	if !c.cancelled {
		c.children = append(c.children, child)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	child.Cancel()
}

func (c *Composite) Cancel() {
	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		return
	}
	c.cancelled = true
	children := c.children
	c.children = nil
	c.mu.Unlock()

	for _, child := range children {
		child.Cancel()
	}
}

// Cancelled reports whether Cancel has been called.
func (c *Composite) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}
