package idgen

import "sync/atomic"

// Int64 returns values 1,2,3...
// Zero is never generated, and values are never reused within a process.
type Int64 struct {
	next atomic.Int64
}

func (u *Int64) Next() int64 {
	return u.next.Add(1)
}

// Peek returns the most recently issued value, or 0 if none has been issued
func (u *Int64) Peek() int64 {
	return u.next.Load()
}
