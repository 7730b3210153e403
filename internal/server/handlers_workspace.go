package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type createWorkspaceRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) handleCreateWorkspace(c *gin.Context) {
	var req createWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}
	if err := s.workspaces.Create(req.Name); err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "already exists") {
			status = http.StatusConflict
		}
		errorResponse(c, status, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": req.Name})
}

func (s *Server) handleListWorkspaces(c *gin.Context) {
	names, err := s.workspaces.List()
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"workspaces": names})
}

func (s *Server) handleWorkspaceFiles(c *gin.Context) {
	files, err := s.workspaces.Files(c.Param("name"))
	if err != nil {
		errorResponse(c, http.StatusNotFound, err)
		return
	}
	if files == nil {
		files = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (s *Server) handleDeleteWorkspace(c *gin.Context) {
	name := c.Param("name")

	// A workspace with a live task keeps the loop's ground truth; refuse.
	tasks, err := s.tasks.List(name)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err)
		return
	}
	for _, t := range tasks {
		if !t.Status.Terminal() {
			errorResponse(c, http.StatusConflict,
				fmt.Errorf("workspace %s has active task %s", name, t.ID))
			return
		}
	}

	if err := s.workspaces.Delete(name); err != nil {
		errorResponse(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": name})
}
