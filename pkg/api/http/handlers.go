package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aescanero/flowdeploy/internal/application/commands"
	"github.com/aescanero/flowdeploy/internal/application/deployer"
	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// RunStatusResponse is the answer to a run status query
type RunStatusResponse struct {
	Pathspec   string           `json:"pathspec"`
	Deployment string           `json:"deployment"`
	Backend    string           `json:"backend"`
	Status     domain.RunStatus `json:"status"`
	IsRunning  bool             `json:"is_running"`
}

// CreateDeploymentRequest asks for a flow to be deployed
type CreateDeploymentRequest struct {
	Backend string `json:"backend"`
	// FlowFile is a path on the server; the configured flow file is used when empty
	FlowFile string                 `json:"flow_file"`
	Name     string                 `json:"name"`
	Options  map[string]interface{} `json:"options"`
}

// TriggerRequest asks for a run of a deployment
type TriggerRequest struct {
	Backend    string                 `json:"backend"`
	Parameters map[string]interface{} `json:"parameters"`
}

// RunActionRequest names the run a suspend, unsuspend or terminate applies to
type RunActionRequest struct {
	Backend    string `json:"backend"`
	Deployment string `json:"deployment" binding:"required"`
	Pathspec   string `json:"pathspec" binding:"required"`
}

// RunActionResponse is the answer to a run action
type RunActionResponse struct {
	Pathspec   string `json:"pathspec"`
	Deployment string `json:"deployment"`
	Action     string `json:"action"`
	Accepted   bool   `json:"accepted"`
}

func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{"deployer": "ok"}
	if s.store == nil {
		checks["store"] = "disabled"
	} else {
		checks["store"] = "ok"
	}
	status := "healthy"
	if s.health != nil {
		checks["backends"] = s.health.GetStatus()
		if !s.health.IsHealthy() {
			status = "degraded"
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

func (s *Server) requireStore(c *gin.Context) bool {
	if s.store == nil {
		errorJSON(c, http.StatusServiceUnavailable, "STORE_NOT_AVAILABLE", "Deployment store is not configured")
		return false
	}
	return true
}

func (s *Server) handleListDeployments(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	records, err := s.store.ListDeployments(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list deployments", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	if backend := c.Query("backend"); backend != "" {
		filtered := records[:0]
		for _, r := range records {
			if r.Backend == backend {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"deployments": records,
		"total":       len(records),
	})
}

func (s *Server) handleGetDeployment(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	name := c.Param("name")
	record, err := s.store.GetDeployment(c.Request.Context(), name)
	if err != nil {
		s.logger.Error("failed to get deployment", zap.String("deployment", name), zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if record == nil {
		errorJSON(c, http.StatusNotFound, "NOT_FOUND", "Deployment not found")
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleListRuns(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	name := c.Param("name")
	runs, err := s.store.ListRuns(c.Request.Context(), name)
	if err != nil {
		s.logger.Error("failed to list runs", zap.String("deployment", name), zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deployment": name,
		"runs":       runs,
		"total":      len(runs),
	})
}

func (s *Server) handleRunStatus(c *gin.Context) {
	if s.status == nil {
		errorJSON(c, http.StatusServiceUnavailable, "STATUS_NOT_AVAILABLE", "Status queries are not configured")
		return
	}

	backend := c.Query("backend")
	deployment := c.Query("deployment")
	pathspec := c.Query("pathspec")
	if deployment == "" || pathspec == "" {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", "deployment and pathspec are required")
		return
	}
	if !strings.Contains(pathspec, "/") {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", "pathspec must be <flow>/<run id>")
		return
	}

	// the backend of a recorded deployment may be omitted
	if backend == "" && s.store != nil {
		record, err := s.store.GetDeployment(c.Request.Context(), deployment)
		if err == nil && record != nil {
			backend = record.Backend
		}
	}

	status, err := s.status.RunStatus(c.Request.Context(), backend, deployment, pathspec)
	if err != nil {
		switch {
		case errors.Is(err, deployer.ErrNoBackendType), errors.Is(err, deployer.ErrUnknownBackend):
			errorJSON(c, http.StatusBadRequest, "INVALID_BACKEND", err.Error())
		default:
			s.logger.Error("failed to query run status",
				zap.String("pathspec", pathspec),
				zap.Error(err))
			errorJSON(c, http.StatusBadGateway, "STATUS_QUERY_FAILED", err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, RunStatusResponse{
		Pathspec:   pathspec,
		Deployment: deployment,
		Backend:    backend,
		Status:     status,
		IsRunning:  status.IsActive(),
	})
}

func (s *Server) requireLifecycle(c *gin.Context) bool {
	if s.lifecycle == nil {
		errorJSON(c, http.StatusServiceUnavailable, "LIFECYCLE_NOT_AVAILABLE", "Lifecycle operations are not configured")
		return false
	}
	return true
}

// lifecycleError maps a failed lifecycle operation to a response
func (s *Server) lifecycleError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, deployer.ErrNoBackendType), errors.Is(err, deployer.ErrUnknownBackend):
		errorJSON(c, http.StatusBadRequest, "INVALID_BACKEND", err.Error())
	case errors.Is(err, deployer.ErrNoFlowFile):
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, deployer.ErrUnsupported):
		errorJSON(c, http.StatusUnprocessableEntity, "UNSUPPORTED", err.Error())
	default:
		s.logger.Error("lifecycle operation failed", zap.String("operation", op), zap.Error(err))
		errorJSON(c, http.StatusBadGateway, "OPERATION_FAILED", err.Error())
	}
}

func (s *Server) handleCreateDeployment(c *gin.Context) {
	if !s.requireLifecycle(c) {
		return
	}

	var req CreateDeploymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	var deployerOpts commands.Options
	if req.Name != "" {
		deployerOpts = commands.Options{"name": req.Name}
	}
	record, err := s.lifecycle.CreateDeployment(c.Request.Context(), req.Backend, req.FlowFile,
		deployerOpts, commands.Options(req.Options))
	if err != nil {
		s.lifecycleError(c, string(commands.VerbCreate), err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

func (s *Server) handleTriggerDeployment(c *gin.Context) {
	if !s.requireLifecycle(c) {
		return
	}

	var req TriggerRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.logger.Error("invalid request", zap.Error(err))
			errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}

	run, err := s.lifecycle.TriggerDeployment(c.Request.Context(), req.Backend, c.Param("name"),
		commands.Options(req.Parameters))
	if err != nil {
		s.lifecycleError(c, string(commands.VerbTrigger), err)
		return
	}

	c.JSON(http.StatusAccepted, run)
}

func (s *Server) handleRunAction(verb commands.Verb) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.requireLifecycle(c) {
			return
		}

		var req RunActionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.logger.Error("invalid request", zap.Error(err))
			errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		if !strings.Contains(req.Pathspec, "/") {
			errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", "pathspec must be <flow>/<run id>")
			return
		}

		ok, err := s.lifecycle.RunAction(c.Request.Context(), verb, req.Backend, req.Deployment, req.Pathspec)
		if err != nil {
			s.lifecycleError(c, string(verb), err)
			return
		}

		status := http.StatusOK
		if !ok {
			status = http.StatusConflict
		}
		c.JSON(status, RunActionResponse{
			Pathspec:   req.Pathspec,
			Deployment: req.Deployment,
			Action:     string(verb),
			Accepted:   ok,
		})
	}
}

func (s *Server) handleDeleteDeployment(c *gin.Context) {
	if !s.requireLifecycle(c) {
		return
	}

	name := c.Param("name")
	ok, err := s.lifecycle.DeleteDeployment(c.Request.Context(), c.Query("backend"), name)
	if err != nil {
		s.lifecycleError(c, string(commands.VerbDelete), err)
		return
	}
	if !ok {
		errorJSON(c, http.StatusConflict, "OPERATION_REJECTED", "The backend refused to delete the deployment")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deployment": name,
		"deleted":    true,
	})
}
