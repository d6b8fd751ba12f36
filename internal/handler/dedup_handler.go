package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskportal/internal/service/dedup"
	"taskportal/internal/shard"
)

type DedupHandler struct {
	maintenance *dedup.Maintenance
	defaults    dedup.MaintenanceOptions
	logger      *zap.Logger
}

// NewDedupHandler defaults 为请求未指定字段时使用的选项
func NewDedupHandler(maintenance *dedup.Maintenance, defaults dedup.MaintenanceOptions, logger *zap.Logger) *DedupHandler {
	return &DedupHandler{
		maintenance: maintenance,
		defaults:    defaults,
		logger:      logger,
	}
}

// ListDuplicates 只读扫描一张表
// GET /admin/duplicates?table=global|<project-id>&key=title&include_deleted=false
func (h *DedupHandler) ListDuplicates(c *gin.Context) {
	table, err := shard.ResolveTable(c.Query("table"))
	if err != nil {
		writeError(c, h.logger, "invalid table", err)
		return
	}
	key, err := dedup.ParseGroupKey(c.DefaultQuery("key", string(h.defaults.GroupKey)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key parameter", "details": err.Error()})
		return
	}
	includeDeleted, err := strconv.ParseBool(c.DefaultQuery("include_deleted", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid include_deleted parameter"})
		return
	}

	groups, err := h.maintenance.Detector().FindDuplicates(c.Request.Context(), table, key, includeDeleted)
	if err != nil {
		writeError(c, h.logger, "failed to find duplicates", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"table":     table.Name(),
		"group_key": key,
		"count":     len(groups),
		"groups":    groups,
	})
}

type maintenanceRequest struct {
	GroupKey       string `json:"group_key"`
	DryRun         *bool  `json:"dry_run"`
	Strategy       string `json:"strategy"`
	Disposition    string `json:"disposition"`
	IncludeDeleted bool   `json:"include_deleted"`
}

func (h *DedupHandler) options(req maintenanceRequest) (dedup.MaintenanceOptions, error) {
	opts := h.defaults
	opts.IncludeDeleted = req.IncludeDeleted
	// 未显式关闭时一律 dry run
	opts.DryRun = true
	if req.DryRun != nil {
		opts.DryRun = *req.DryRun
	}

	var err error
	if req.GroupKey != "" {
		if opts.GroupKey, err = dedup.ParseGroupKey(req.GroupKey); err != nil {
			return opts, err
		}
	}
	if req.Strategy != "" {
		if opts.Strategy, err = dedup.ParseStrategy(req.Strategy); err != nil {
			return opts, err
		}
	}
	if req.Disposition != "" {
		if opts.Disposition, err = dedup.ParseDisposition(req.Disposition); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

// RunMaintenance 扫描全部表并按选项处理重复组
// POST /admin/maintenance/dedup
func (h *DedupHandler) RunMaintenance(c *gin.Context) {
	var req maintenanceRequest
	// 空请求体按默认选项执行
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	opts, err := h.options(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid maintenance options", "details": err.Error()})
		return
	}

	report, err := h.maintenance.Run(c.Request.Context(), opts)
	if err != nil {
		writeError(c, h.logger, "maintenance run failed", err)
		return
	}
	h.logger.Info("Maintenance run finished",
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("tables", len(report.Tables)),
	)
	c.JSON(http.StatusOK, gin.H{
		"report": report,
		"totals": report.Totals(),
	})
}
