package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskportal/internal/service/tables"
	"taskportal/internal/shard"
)

type TablesHandler struct {
	tables *tables.Service
	logger *zap.Logger
}

func NewTablesHandler(svc *tables.Service, logger *zap.Logger) *TablesHandler {
	return &TablesHandler{
		tables: svc,
		logger: logger,
	}
}

type seedRequest struct {
	TaskIDs []string `json:"task_ids" binding:"required"`
}

func tablesBody(key shard.TableKey) gin.H {
	return gin.H{
		"project_id":   key.ProjectID(),
		"tasks_table":  key.Tasks().Name(),
		"stages_table": key.Stages().Name(),
	}
}

// EnsureTables 创建项目专属表（幂等）
// POST /admin/projects/:id/tables
func (h *TablesHandler) EnsureTables(c *gin.Context) {
	key, err := h.tables.EnsureProjectTables(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "failed to ensure project tables", err)
		return
	}
	c.JSON(http.StatusOK, tablesBody(key))
}

// GET /admin/projects/:id/tables
func (h *TablesHandler) GetTables(c *gin.Context) {
	pt, err := h.tables.ResolveProjectTables(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "failed to resolve project tables", err)
		return
	}
	c.JSON(http.StatusOK, tablesBody(pt.Key))
}

// ListTables 列出所有已创建专属表的项目
// GET /admin/projects
func (h *TablesHandler) ListTables(c *gin.Context) {
	keys, err := h.tables.ListProvisioned(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "failed to list project tables", err)
		return
	}
	projects := make([]gin.H, 0, len(keys))
	for _, k := range keys {
		projects = append(projects, tablesBody(k))
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// DeleteTables 拆除项目专属表
// DELETE /admin/projects/:id/tables
func (h *TablesHandler) DeleteTables(c *gin.Context) {
	projectID := c.Param("id")
	if err := h.tables.TeardownProject(c.Request.Context(), projectID); err != nil {
		writeError(c, h.logger, "failed to tear down project tables", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "torn_down",
		"project_id": projectID,
	})
}

// Seed 从全局表复制任务到项目表
// POST /admin/projects/:id/seed
func (h *TablesHandler) Seed(c *gin.Context) {
	var req seedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	res, err := h.tables.SeedProjectFromGlobal(c.Request.Context(), c.Param("id"), req.TaskIDs)
	if err != nil {
		writeError(c, h.logger, "failed to seed project tables", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /admin/projects/:id/stages/sync
func (h *TablesHandler) SyncStages(c *gin.Context) {
	res, err := h.tables.SyncStageIDs(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "failed to sync stage ids", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
