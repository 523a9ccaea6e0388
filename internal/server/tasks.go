package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tms/internal/apperr"
	"tms/internal/service"
)

type assignTaskRequest struct {
	Title       string    `json:"title" binding:"required"`
	Description string    `json:"description" binding:"required"`
	DueDate     time.Time `json:"dueDate" binding:"required"`
	Priority    string    `json:"priority"`
	AssignedTo  string    `json:"assignedTo" binding:"required"`
	CreatedBy   string    `json:"createdBy"`
}

type reassignTaskRequest struct {
	AssignedTo string `json:"assignedTo" binding:"required"`
}

type updateStatusRequest struct {
	TaskID int64  `json:"taskId"`
	Status string `json:"status" binding:"required"`
}

// handleAssignTask creates a task from the calling admin to a user.
func (s *Server) handleAssignTask(c *gin.Context) {
	var req assignTaskRequest
	if !s.bindJSON(c, &req) {
		return
	}

	me := caller(c)
	// The creator is whoever holds the token; createdBy is accepted only when it agrees.
	if req.CreatedBy != "" && req.CreatedBy != me.Username {
		s.respondError(c, apperr.BadRequest("createdBy must match the authenticated user"))
		return
	}

	task, err := s.tasks.AssignTask(c.Request.Context(), service.AssignTaskInput{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
		Priority:    req.Priority,
		AssignedTo:  req.AssignedTo,
		CreatedBy:   me.Username,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": task})
}

// handleReassignTask points an existing task at another user.
func (s *Server) handleReassignTask(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req reassignTaskRequest
	if !s.bindJSON(c, &req) {
		return
	}

	task, err := s.tasks.ReassignTask(c.Request.Context(), caller(c), id, req.AssignedTo)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": task})
}

// handleUpdateTaskStatus moves a task to another status.
func (s *Server) handleUpdateTaskStatus(c *gin.Context) {
	var req updateStatusRequest
	if !s.bindJSON(c, &req) {
		return
	}

	task, err := s.tasks.UpdateTaskStatus(c.Request.Context(), caller(c), req.TaskID, req.Status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": task})
}

// handleDeleteTask removes a task completely.
func (s *Server) handleDeleteTask(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := s.tasks.DeleteTask(c.Request.Context(), caller(c), id); err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"status": "deleted"})
}

// handleTaskCounts reports how many visible tasks sit in each status.
func (s *Server) handleTaskCounts(c *gin.Context) {
	counts, err := s.tasks.GetTaskCounts(c.Request.Context(), caller(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"counts": counts})
}

// handleUserTasks lists every task the caller may see.
func (s *Server) handleUserTasks(c *gin.Context) {
	tasks, err := s.tasks.GetUserTasks(c.Request.Context(), caller(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"tasks": tasks})
}

// handleTaskDetail returns a single task with creator and assignee expanded.
func (s *Server) handleTaskDetail(c *gin.Context) {
	id, ok := parseID(c, "taskId")
	if !ok {
		return
	}
	task, err := s.tasks.GetTaskDetail(c.Request.Context(), caller(c), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"task": task})
}

// handleSearchTasks filters visible tasks by ?searchTerm= and ?status=.
func (s *Server) handleSearchTasks(c *gin.Context) {
	tasks, err := s.tasks.SearchTasks(c.Request.Context(), caller(c), c.Query("searchTerm"), c.Query("status"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"tasks": tasks})
}
