package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nfregctl/nfregctl/addone/registration"
	"github.com/nfregctl/nfregctl/internal/database"
	"github.com/nfregctl/nfregctl/internal/service"
	"github.com/nfregctl/nfregctl/pkg/logger"
)

// RunHandler 批量运行处理器
type RunHandler struct {
	fleet *service.FleetService
}

// NewRunHandler 创建批量运行处理器
func NewRunHandler(fleet *service.FleetService) *RunHandler {
	return &RunHandler{fleet: fleet}
}

// NFInfo 已配置 NF 摘要，不含凭据
type NFInfo struct {
	Name    string `json:"name"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Type    string `json:"type"`
	Bastion string `json:"bastion,omitempty"`
}

// Health 健康检查
func (h *RunHandler) Health(c *gin.Context) {
	cfg := h.fleet.Config()
	data := gin.H{
		"nfs":             len(cfg.NFs),
		"active_sessions": h.fleet.Tracker().Active(),
		"database":        "disabled",
	}
	if database.Enabled() {
		if err := database.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Code:    "DATABASE_UNAVAILABLE",
				Message: err.Error(),
			})
			return
		}
		data["database"] = "ok"
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "服务正常", Data: data})
}

// CreateRun 同步执行一次批量运行
// @Router /api/v1/runs [post]
func (h *RunHandler) CreateRun(c *gin.Context) {
	var req service.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "请求参数无效: " + err.Error(),
		})
		return
	}
	if _, ok := registration.ParseMode(string(req.Mode)); !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_MODE",
			Message: "unsupported mode: " + string(req.Mode),
		})
		return
	}

	report, err := h.fleet.Run(c.Request.Context(), &req)
	if errors.Is(err, service.ErrRunInProgress) {
		c.JSON(http.StatusConflict, ErrorResponse{Code: "RUN_IN_PROGRESS", Message: err.Error()})
		return
	}
	if err != nil {
		logger.WithError(err).Error("API: run failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "EXECUTION_FAILED",
			Message: "运行失败: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: report.Status, Data: report})
}

// ListRuns 运行历史
func (h *RunHandler) ListRuns(c *gin.Context) {
	if !database.Enabled() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "HISTORY_DISABLED", Message: "run history is not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := database.ListRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: runs})
}

// GetRun 单次运行详情
func (h *RunHandler) GetRun(c *gin.Context) {
	if !database.Enabled() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "HISTORY_DISABLED", Message: "run history is not configured"})
		return
	}
	run, err := database.GetRun(c.Param("id"))
	if errors.Is(err, database.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "NOT_FOUND", Message: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: run})
}

// ListNFs 已配置 NF
func (h *RunHandler) ListNFs(c *gin.Context) {
	cfg := h.fleet.Config()
	names := cfg.NFNames()
	nfs := make([]NFInfo, 0, len(names))
	for _, name := range names {
		nf, _ := cfg.NF(name)
		nfs = append(nfs, NFInfo{Name: name, Host: nf.Host, Port: nf.Port, Type: nf.Type, Bastion: nf.Bastion})
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: nfs})
}

// ListNFTypes 已注册的 NF 类型
func (h *RunHandler) ListNFTypes(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: registration.Names()})
}
