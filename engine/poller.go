package engine

import "time"

// event is one ready fd reported by the poller.
type event struct {
	fd    int
	write bool
}

// poller abstracts the readiness primitive: epoll on Linux, select
// elsewhere. A negative timeout blocks until an fd is ready.
type poller interface {
	register(fd int, write bool) error
	unregister(fd int, write bool)
	wait(timeout time.Duration) ([]event, error)
	close()
}
