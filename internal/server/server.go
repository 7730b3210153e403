// Package server exposes the management and execution surface over HTTP.
package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"podium/internal/conductor"
	"podium/internal/config"
	"podium/internal/dispatch"
	"podium/internal/logging"
	"podium/internal/task"
	"podium/internal/workspace"
)

// Server wires the conductor, dispatcher and stores into an HTTP API.
type Server struct {
	engine     *gin.Engine
	cfg        *config.Config
	tasks      *task.Manager
	workspaces *workspace.Manager
	conductor  *conductor.Conductor
	dispatcher *dispatch.Dispatcher
	logger     logging.Logger
}

// New assembles the router.
func New(cfg *config.Config, tasks *task.Manager, workspaces *workspace.Manager, cond *conductor.Conductor, dispatcher *dispatch.Dispatcher, logger logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Cache-Control"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))

	s := &Server{
		engine:     engine,
		cfg:        cfg,
		tasks:      tasks,
		workspaces: workspaces,
		conductor:  cond,
		dispatcher: dispatcher,
		logger:     logging.OrNop(logger),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	{
		api.POST("/execute", s.handleExecute)
		api.POST("/execute-stream", s.handleExecuteStream)
		api.POST("/orchestrate", s.handleOrchestrate)
		api.POST("/debate", s.handleDebate)
		api.POST("/debate-stream", s.handleDebateStream)
		api.POST("/plans", s.handleGeneratePlan)

		tasks := api.Group("/tasks")
		{
			tasks.POST("", s.handleCreateTask)
			tasks.GET("", s.handleListTasks)
			tasks.GET("/:id", s.handleGetTask)
			tasks.DELETE("/:id", s.handleDeleteTask)
			tasks.GET("/:id/logs", s.handleGetLogs)
			tasks.GET("/:id/phases", s.handleGetPhases)
			tasks.POST("/:id/cancel", s.handleCancelTask)
			tasks.POST("/:id/instructions", s.handleAddInstruction)
			tasks.GET("/:id/instructions", s.handleGetInstructions)
			tasks.POST("/:id/resume", s.handleResumeTask)
			tasks.POST("/:id/run-stream", s.handleRunStream)
		}

		workspaces := api.Group("/workspaces")
		{
			workspaces.POST("", s.handleCreateWorkspace)
			workspaces.GET("", s.handleListWorkspaces)
			workspaces.GET("/:name/files", s.handleWorkspaceFiles)
			workspaces.DELETE("/:name", s.handleDeleteWorkspace)
		}
	}
}

// Handler returns the assembled router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func errorResponse(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}
