// Package debugsrv serves a read-only HTTP view of a running task: the
// engine's fanout window, how many clients are launched, and the event
// counters kept per worker type. A debugging surface, not part of the
// execution path.
package debugsrv

import (
	"net/http"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/render"

	clustrd "github.com/clustrd/clustrd"
)

type workerStatus struct {
	Worker string `json:"worker"`
	Picked int    `json:"picked_up"`
	Reads  int    `json:"reads"`
	Closed int    `json:"closed"`
}

type taskStatus struct {
	Fanout     int            `json:"fanout"`
	Running    int            `json:"running"`
	Clients    int            `json:"clients"`
	MaxRetcode int            `json:"max_retcode"`
	NumTimeout int            `json:"num_timeout"`
	Workers    []workerStatus `json:"workers"`
}

// StartHttpServer serves the status API for task on addr; it blocks, so
// callers run it on its own goroutine.
func StartHttpServer(addr string, task *clustrd.Task) {
	mart := martini.Classic()
	mart.Use(render.Renderer(render.Options{
		IndentJSON: true,
	}))

	api(mart, task)

	mart.RunOnAddr(addr)
}

func api(mart *martini.ClassicMartini, task *clustrd.Task) {
	mart.Get("/status", func(r render.Render) {
		r.JSON(http.StatusOK, snapshot(task))
	})

	mart.Get("/workers/:worker/status", func(params martini.Params, r render.Render) {
		for _, ws := range snapshot(task).Workers {
			if ws.Worker == params["worker"] {
				r.JSON(http.StatusOK, ws)
				return
			}
		}
		r.JSON(http.StatusNotFound, map[string]string{"err": "no such worker"})
	})
}

func snapshot(task *clustrd.Task) taskStatus {
	st := taskStatus{
		Fanout:     task.Engine().Fanout(),
		Running:    task.Engine().Running(),
		Clients:    task.Engine().Clients(),
		MaxRetcode: task.MaxRetcode(),
		NumTimeout: task.NumTimeout(),
	}
	for _, ws := range task.Stats() {
		st.Workers = append(st.Workers, workerStatus{
			Worker: ws.Name,
			Picked: ws.Picked.Int(),
			Reads:  ws.Reads.Int(),
			Closed: ws.Closed.Int(),
		})
	}
	return st
}
