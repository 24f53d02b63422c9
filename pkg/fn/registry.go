package fn

import (
	"fmt"
	"sync"
)

// Closure is a compiled Go implementation of an ordinary function,
// registered under the same name as its normalized source declaration. Go
// has no runtime eval, so execution never reconstructs a callable from
// source text: it only ever dispatches by name to a closure the program
// registered at init time.
type Closure func(kw KwArgs) (any, error)

var (
	closuresMu sync.RWMutex
	closures   = make(map[string]Closure)
)

// Register binds name to impl in the process-wide closure registry. It
// panics on a duplicate registration: closures are registered at init
// time, so a duplicate name is a programming error, not a runtime
// condition.
func Register(name string, impl Closure) {
	closuresMu.Lock()
	defer closuresMu.Unlock()
	if _, dup := closures[name]; dup {
		panic(fmt.Sprintf("fn: closure %q already registered", name))
	}
	closures[name] = impl
}

// Lookup returns the closure registered under name, if any.
func Lookup(name string) (Closure, bool) {
	closuresMu.RLock()
	defer closuresMu.RUnlock()
	impl, ok := closures[name]
	return impl, ok
}
