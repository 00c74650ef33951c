package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ellflow/ellflow-go/flow"
	"github.com/ellflow/ellflow-go/flow/store"
)

// startRequest is the POST /executions body. The workflow is kept as raw
// JSON so ParseWorkflow can report configuration errors with their codes.
type startRequest struct {
	Workflow json.RawMessage     `json:"workflow" binding:"required"`
	Student  flow.StudentProfile `json:"student"`
}

type resumeRequest struct {
	Input map[string]any `json:"input"`
}

func (s *Server) startExecution(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	wf, err := flow.ParseWorkflow(req.Workflow)
	if err != nil {
		status := http.StatusBadRequest
		var rerr *flow.RunError
		if errors.As(err, &rerr) {
			c.JSON(status, gin.H{"error": rerr.Message, "code": rerr.Code})
		} else {
			c.JSON(status, gin.H{"error": err.Error()})
		}
		return
	}

	runID := uuid.NewString()
	handle := newRunHandle(runID, s, wf)
	executor, err := flow.NewExecutor(s.executorOptions(runID, handle.callbacks())...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	handle.executor = executor
	s.addRun(handle)

	student := req.Student
	go func() {
		exec, execErr := executor.Execute(context.Background(), wf, student)
		handle.settle(exec, execErr)
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"executionId": runID,
		"status":      string(flow.RunRunning),
	})
}

func (s *Server) getExecution(c *gin.Context) {
	id := c.Param("id")

	if handle, ok := s.run(id); ok {
		if snapshot := handle.executor.Snapshot(); snapshot != nil {
			c.JSON(http.StatusOK, snapshot)
			return
		}
		// Accepted but the engine has not built its record yet.
		c.JSON(http.StatusOK, gin.H{"id": id, "status": string(flow.RunRunning)})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	exec, err := s.opts.Store.LoadExecution(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, exec)
}

func (s *Server) listExecutions(c *gin.Context) {
	filter := store.Filter{
		StudentID:  c.Query("studentId"),
		WorkflowID: c.Query("workflowId"),
		Status:     flow.RunStatus(c.Query("status")),
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	execs, err := s.opts.Store.ListExecutions(ctx, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if execs == nil {
		execs = []*flow.WorkflowExecution{}
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs})
}

func (s *Server) resumeExecution(c *gin.Context) {
	id := c.Param("id")
	handle, ok := s.run(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found or no longer live"})
		return
	}

	var req resumeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}

	if status := handle.executor.Status(); status != flow.RunPaused {
		c.JSON(http.StatusConflict, gin.H{"error": "run is not paused", "status": string(status)})
		return
	}

	handle.publish(Event{Type: EventResumed, Data: map[string]any{
		"inputProvided": req.Input != nil,
	}})
	go func() {
		exec, err := handle.executor.Resume(context.Background(), req.Input)
		if errors.Is(err, flow.ErrNotPaused) || errors.Is(err, flow.ErrAlreadyFinished) {
			return
		}
		handle.settle(exec, err)
	}()

	c.JSON(http.StatusAccepted, gin.H{"executionId": id, "status": string(flow.RunRunning)})
}

func (s *Server) cancelExecution(c *gin.Context) {
	id := c.Param("id")
	handle, ok := s.run(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found or no longer live"})
		return
	}

	err := handle.executor.Cancel()
	switch {
	case errors.Is(err, flow.ErrAlreadyFinished):
		c.JSON(http.StatusConflict, gin.H{"error": "run already finished"})
		return
	case errors.Is(err, flow.ErrNotStarted):
		c.JSON(http.StatusConflict, gin.H{"error": "run has not started"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// A paused run is finalized by Cancel itself; a running one finishes
	// after its current wave, and the run goroutine settles it.
	if exec := handle.executor.Snapshot(); exec != nil && exec.Status == flow.RunFailed {
		handle.settle(exec, exec.Error)
	}
	c.JSON(http.StatusAccepted, gin.H{"executionId": id, "status": "cancelling"})
}

func (s *Server) streamEvents(c *gin.Context) {
	id := c.Param("id")
	handle, ok := s.run(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found or no longer live"})
		return
	}

	writer, err := newSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)

	sub := handle.subscribe()
	defer handle.unsubscribe(sub)

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, open := <-sub:
			if !open {
				return
			}
			if err := writer.writeEvent(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := writer.writeComment("ping"); err != nil {
				return
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}
