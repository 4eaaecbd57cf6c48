// Package engine implements the single-threaded cooperative reactor that
// drives every Worker destination: a registry of fd-bearing clients, a
// timer heap, and a fanout-bounded pending queue, woken by epoll on Linux
// and by select elsewhere. All callbacks run on the goroutine that calls
// Run; nothing in this package takes a lock.
package engine
