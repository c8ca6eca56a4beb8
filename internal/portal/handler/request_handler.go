package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yutthachai69/request-sub000/internal/portal/repository"
	"github.com/yutthachai69/request-sub000/internal/portal/service"
)

// RequestHandler 申请单处理器
type RequestHandler struct {
	requestSvc    *service.RequestService
	resolverSvc   *service.ResolverService
	transitionSvc *service.TransitionService
	attachmentSvc *service.AttachmentService
	userRepo      *repository.UserRepository
}

// NewRequestHandler 创建申请单处理器
func NewRequestHandler(svc *service.Services, userRepo *repository.UserRepository) *RequestHandler {
	return &RequestHandler{
		requestSvc:    svc.Request,
		resolverSvc:   svc.Resolver,
		transitionSvc: svc.Transition,
		attachmentSvc: svc.Attachment,
		userRepo:      userRepo,
	}
}

// Create 创建申请单
// POST /api/v1/requests
func (h *RequestHandler) Create(c *gin.Context) {
	var req service.CreateRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	user, ok := loadActingUser(c, h.userRepo)
	if !ok {
		return
	}
	request, err := h.requestSvc.CreateRequest(c.Request.Context(), req, user)
	if err != nil {
		RespondEngineError(c, err)
		return
	}
	Created(c, request)
}

// List 申请单列表
// GET /api/v1/requests?status_id=&category_id=&mine=1
func (h *RequestHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]interface{}{
		"status_id":     c.Query("status_id"),
		"category_id":   c.Query("category_id"),
		"department_id": c.Query("department_id"),
	}
	if c.Query("mine") == "1" {
		filters["requester_id"] = GetUserID(c)
	}
	requests, total, err := h.requestSvc.ListRequests(c.Request.Context(), filters, page, pageSize)
	if err != nil {
		InternalError(c, "查询申请单失败: "+err.Error())
		return
	}
	totalPages := (total + int64(pageSize) - 1) / int64(pageSize)
	Success(c, gin.H{
		"items": requests,
		"pagination": Pagination{
			Page: page, PageSize: pageSize, Total: total, TotalPages: totalPages,
		},
	})
}

// Get 申请单详情
// GET /api/v1/requests/:id
func (h *RequestHandler) Get(c *gin.Context) {
	request, err := h.requestSvc.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondEngineError(c, err)
		return
	}
	Success(c, request)
}

// GetHistory 审批历史时间线
// GET /api/v1/requests/:id/history?grouped=1
func (h *RequestHandler) GetHistory(c *gin.Context) {
	id := c.Param("id")
	if c.Query("grouped") == "1" {
		grouped, err := h.requestSvc.GetHistoryGrouped(c.Request.Context(), id)
		if err != nil {
			InternalError(c, "查询审批历史失败: "+err.Error())
			return
		}
		Success(c, gin.H{"grouped": grouped})
		return
	}
	rows, err := h.requestSvc.GetHistory(c.Request.Context(), id)
	if err != nil {
		InternalError(c, "查询审批历史失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": rows})
}

// GetPossibleActions 当前用户可执行的动作（按步骤分组）
// GET /api/v1/requests/:id/possible-actions
func (h *RequestHandler) GetPossibleActions(c *gin.Context) {
	user, ok := loadActingUser(c, h.userRepo)
	if !ok {
		return
	}
	request, err := h.requestSvc.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondEngineError(c, err)
		return
	}
	steps, err := h.resolverSvc.ResolvePossibleActions(c.Request.Context(), nil, request, user)
	if err != nil {
		InternalError(c, "计算可执行动作失败: "+err.Error())
		return
	}
	Success(c, gin.H{"steps": steps})
}

// PerformActionReq 执行动作请求
type PerformActionReq struct {
	ActionName string                 `json:"action_name" binding:"required"`
	Comment    string                 `json:"comment"`
	ITData     *service.ITProcessData `json:"it_data"`
}

// PerformAction 执行一个审批动作
// POST /api/v1/requests/:id/action
func (h *RequestHandler) PerformAction(c *gin.Context) {
	var req PerformActionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	user, ok := loadActingUser(c, h.userRepo)
	if !ok {
		return
	}
	result, err := h.transitionSvc.PerformAction(c.Request.Context(), c.Param("id"), req.ActionName, user, service.ActionPayload{
		Comment: req.Comment,
		ITData:  req.ITData,
	})
	if err != nil {
		RespondEngineError(c, err)
		return
	}
	Success(c, result)
}

// BulkActionReq 批量执行动作请求
type BulkActionReq struct {
	RequestIDs []string `json:"request_ids" binding:"required"`
	ActionName string   `json:"action_name" binding:"required"`
	Comment    string   `json:"comment"`
}

// PerformBulkAction 批量执行动作（逐条结果，整体永不失败）
// POST /api/v1/requests/bulk-action
func (h *RequestHandler) PerformBulkAction(c *gin.Context) {
	var req BulkActionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if len(req.RequestIDs) == 0 {
		BadRequest(c, "request_ids 不能为空")
		return
	}
	user, ok := loadActingUser(c, h.userRepo)
	if !ok {
		return
	}
	result := h.transitionSvc.PerformBulkAction(c.Request.Context(), req.RequestIDs, req.ActionName, req.Comment, user)
	Success(c, result)
}

// ResubmitReq 打回重提请求
type ResubmitReq struct {
	Comment string `json:"comment"`
}

// Resubmit 打回重提：REVISION_REQUIRED → INITIAL
// POST /api/v1/requests/:id/resubmit
func (h *RequestHandler) Resubmit(c *gin.Context) {
	var req ResubmitReq
	_ = c.ShouldBindJSON(&req)
	user, ok := loadActingUser(c, h.userRepo)
	if !ok {
		return
	}
	request, err := h.requestSvc.Resubmit(c.Request.Context(), c.Param("id"), user, req.Comment)
	if err != nil {
		RespondEngineError(c, err)
		return
	}
	Success(c, request)
}

// UploadAttachment 上传证据附件
// POST /api/v1/requests/:id/attachments (multipart)
func (h *RequestHandler) UploadAttachment(c *gin.Context) {
	user, ok := loadActingUser(c, h.userRepo)
	if !ok {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "缺少文件: "+err.Error())
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		InternalError(c, "读取上传文件失败: "+err.Error())
		return
	}
	defer file.Close()

	att, err := h.attachmentSvc.Upload(c.Request.Context(), c.Param("id"), fileHeader.Filename, fileHeader.Size, file, user.ID)
	if err != nil {
		RespondEngineError(c, err)
		return
	}
	Created(c, att)
}

// ListAttachments 附件列表（带临时下载链接）
// GET /api/v1/requests/:id/attachments
func (h *RequestHandler) ListAttachments(c *gin.Context) {
	atts, err := h.attachmentSvc.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		InternalError(c, "查询附件失败: "+err.Error())
		return
	}
	items := make([]gin.H, 0, len(atts))
	for _, att := range atts {
		item := gin.H{"attachment": att}
		if url, err := h.attachmentSvc.PresignedURL(c.Request.Context(), &att, 15*time.Minute); err == nil {
			item["download_url"] = url
		}
		items = append(items, item)
	}
	Success(c, gin.H{"items": items})
}

// DashboardStats 按状态统计
// GET /api/v1/dashboard/stats
func (h *RequestHandler) DashboardStats(c *gin.Context) {
	stats, err := h.requestSvc.DashboardStats(c.Request.Context())
	if err != nil {
		InternalError(c, "统计查询失败: "+err.Error())
		return
	}
	Success(c, gin.H{"by_status": stats})
}
