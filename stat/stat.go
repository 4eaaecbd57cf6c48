package stat

import "fmt"

// WorkerStat counts events under one worker label: destinations picked
// up, read events seen, and workers closed. Safe to read from the HTTP
// introspection goroutine while the reactor updates it.
type WorkerStat struct {
	Name   string
	Picked *Counter
	Reads  *Counter
	Closed *Counter
}

// NewWorkerStat creates a zeroed stat for one worker label.
func NewWorkerStat(name string) *WorkerStat {
	return &WorkerStat{
		Name:   name,
		Picked: NewCounter(0),
		Reads:  NewCounter(0),
		Closed: NewCounter(0),
	}
}

func (s WorkerStat) String() string {
	return fmt.Sprintf("%s,%s,%s,%s", s.Name, s.Picked, s.Reads, s.Closed)
}
