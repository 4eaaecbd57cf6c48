// Package stat holds the thread-safe counters behind the task
// introspection surface. Counters never go negative.
package stat

import (
	"strconv"
	"sync"
)

type Counter struct {
	c      int
	locker sync.Mutex
}

func NewCounter(c int) *Counter {
	return &Counter{c: c}
}

func (c *Counter) Incr() {
	c.locker.Lock()
	c.c++
	c.locker.Unlock()
}

func (c *Counter) Decr() {
	c.locker.Lock()
	c.c--
	if c.c < 0 {
		c.c = 0
	}
	c.locker.Unlock()
}

func (c *Counter) String() string {
	return strconv.Itoa(c.Int())
}

func (c *Counter) Int() int {
	c.locker.Lock()
	defer c.locker.Unlock()
	return c.c
}
