package engine

import "time"

// Client is one fd-bearing destination registered with the Engine: the
// worker package's per-node exec/ssh/scp client satisfies this, as does
// Port. Fd slices name the descriptors the client currently wants
// readiness for; an empty slice means no interest in that direction.
type Client interface {
	// Launch spawns the client's child process and opens its fds.
	// The Engine calls it once, when a fanout slot is free.
	Launch() error

	ReadFds() []int
	WriteFds() []int

	// HandleReadable is called when fd, one of ReadFds, is ready.
	HandleReadable(fd int) error
	// HandleWritable is called when fd, one of WriteFds, is ready.
	HandleWritable(fd int) error

	// Done reports whether the client has seen EOF and HUP on every fd
	// it owns and can be removed from the Engine.
	Done() bool

	// ConnectDeadline returns the time by which the client must see its
	// first byte or EOF, or the zero Time for "no deadline".
	ConnectDeadline() time.Time
	// CommandDeadline returns the time by which the client must reach
	// Done, or the zero Time for "no deadline".
	CommandDeadline() time.Time
	// TimeoutExpired is called when a deadline above passes before Done.
	// The client should close its fds and mark itself Done.
	TimeoutExpired()

	// Abort is called on Task.Abort/Engine shutdown; best-effort.
	Abort()
}
