package workflow

// Context is the unordered key-value mapping threaded through a single
// workflow execution. It is the sole data channel between nodes.
//
// Executors must not mutate the context they receive: they return a fresh
// value built with With (or a clone). Overwriting a key set by an upstream
// node is permitted and intentional; the later node wins.
type Context map[string]any

// Clone returns a shallow copy of the context. A nil context clones to an
// empty, non-nil map so callers can write to the result.
func (c Context) Clone() Context {
	out := make(Context, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	return out
}

// With returns a fresh context containing every entry of c plus the given
// key. The receiver is left untouched.
func (c Context) With(key string, value any) Context {
	out := c.Clone()
	out[key] = value
	return out
}
