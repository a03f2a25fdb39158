// Package progressserver exposes the converter over HTTP: a single
// streaming endpoint that runs a conversion and reports its progress
// events as newline-delimited JSON, adapted from the teacher's
// "api/pull" progress-channel route (gin's c.Stream over a channel of
// progress structs) rather than its inference-serving routes.
package progressserver

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/modelshard/convert/internal/convert"
)

// ConvertRequest is the POST /api/convert body: the file paths making up
// one model's input set, plus the converter configuration.
type ConvertRequest struct {
	Paths  []string      `json:"paths"`
	Config convert.Config `json:"config"`
}

// jobRegistry tracks in-flight conversions so DELETE /api/convert/:id can
// cancel one. Cancellation is cooperative: the driver polls Cancelled()
// at stage boundaries and before every tensor.
type jobRegistry struct {
	mu     sync.Mutex
	jobs   map[string]*job
	nextID int
}

type job struct {
	cancelled bool
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{jobs: map[string]*job{}}
}

func (r *jobRegistry) start() (string, *job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := strconv.Itoa(r.nextID)
	j := &job{}
	r.jobs[id] = j
	return id, j
}

func (r *jobRegistry) cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return false
	}
	j.cancelled = true
	return true
}

func (r *jobRegistry) finish(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

func (j *job) isCancelled() bool {
	return j.cancelled
}

// Server wires a Driver into gin routes.
type Server struct {
	driver *convert.Driver
	jobs   *jobRegistry
}

// New wraps an already-initialized driver.
func New(d *convert.Driver) *Server {
	return &Server{driver: d, jobs: newJobRegistry()}
}

// Serve runs the HTTP server on ln until it errors or is closed.
func (s *Server) Serve(ln net.Listener) error {
	r := gin.Default()

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "model shard converter is running")
	})

	r.POST("/api/convert", s.handleConvert)
	r.DELETE("/api/convert/:id", s.handleCancel)

	log.Printf("Listening on %s", ln.Addr())
	srv := &http.Server{Handler: r}
	return srv.Serve(ln)
}

func (s *Server) handleConvert(c *gin.Context) {
	var req ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, j := s.jobs.start()
	defer s.jobs.finish(id)

	events := make(chan convert.Event, 16)
	var convertErr error
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, convertErr = s.driver.Convert(c.Request.Context(), convert.Request{
			Input:     convert.InputSet{Paths: req.Paths},
			Config:    req.Config,
			Cancelled: j.isCancelled,
			Progress:  func(e convert.Event) { events <- e },
		})
		close(events)
	}()

	c.Header("X-Job-Id", id)
	c.Stream(func(w io.Writer) bool {
		e, ok := <-events
		if !ok {
			return false
		}
		bts, err := json.Marshal(jobEvent{JobID: id, Event: e})
		if err != nil {
			return false
		}
		bts = append(bts, '\n')
		_, err = w.Write(bts)
		return err == nil
	})

	<-done
	if convertErr != nil {
		var ce *convert.ConvertError
		if errors.As(convertErr, &ce) {
			log.Printf("conversion %s failed: %s", id, ce.Error())
		}
	}
}

type jobEvent struct {
	JobID string        `json:"jobId"`
	Event convert.Event `json:"event"`
}

func (s *Server) handleCancel(c *gin.Context) {
	id := c.Param("id")
	if !s.jobs.cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job id"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}
