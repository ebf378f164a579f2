package controlplane

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/skysyncd/skysync/internal/sync"
)

type taskView struct {
	*sync.Task
	Status *sync.StatusSnapshot `json:"status,omitempty"`
}

func (s *Server) taskWithStatus(task *sync.Task) taskView {
	view := taskView{Task: task}
	if snapshot, ok := s.manager.Status(task.TaskID); ok {
		view.Status = &snapshot
	}
	return view
}

func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.manager.Store().ListTasks()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, s.taskWithStatus(task))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": views})
}

type createTaskRequest struct {
	LocalRoot     string `json:"local_root" binding:"required"`
	RemoteRootURI string `json:"remote_root_uri" binding:"required"`
	IntervalSecs  int    `json:"interval_secs"`
	Start         bool   `json:"start"`
}

func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := s.manager.CreateTask(req.LocalRoot, req.RemoteRootURI, req.IntervalSecs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if req.Start {
		if err := s.manager.StartTask(c.Request.Context(), task.TaskID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "task": task})
			return
		}
	}
	c.JSON(http.StatusCreated, s.taskWithStatus(task))
}

func (s *Server) getTask(c *gin.Context) {
	task, err := s.manager.Store().GetTask(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, s.taskWithStatus(task))
}

func (s *Server) deleteTask(c *gin.Context) {
	if err := s.manager.DeleteTask(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) startTask(c *gin.Context) {
	if err := s.manager.StartTask(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) stopTask(c *gin.Context) {
	if err := s.manager.StopTask(c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) pauseTask(c *gin.Context) {
	if err := s.manager.PauseTask(c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) resumeTask(c *gin.Context) {
	if err := s.manager.ResumeTask(c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) runNow(c *gin.Context) {
	if err := s.manager.RunNow(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) listConflicts(c *gin.Context) {
	conflicts, err := s.manager.Store().ListConflicts(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts})
}

func (s *Server) resolveConflict(c *gin.Context) {
	conflictID, err := strconv.ParseInt(c.Param("conflictID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conflict id"})
		return
	}
	if err := s.manager.Store().ResolveConflict(c.Param("id"), conflictID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) statuses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": s.manager.Statuses()})
}

func (s *Server) listActivity(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	activity, err := s.manager.Store().ListActivity(c.Query("task_id"), c.Query("level"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": activity})
}
