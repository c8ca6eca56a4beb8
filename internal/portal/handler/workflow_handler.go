package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/yutthachai69/request-sub000/internal/portal/service"
)

// WorkflowHandler 工作流配置处理器（管理端）
type WorkflowHandler struct {
	svc *service.WorkflowAdminService
}

// NewWorkflowHandler 创建工作流配置处理器
func NewWorkflowHandler(svc *service.WorkflowAdminService) *WorkflowHandler {
	return &WorkflowHandler{svc: svc}
}

// GetWorkflow 获取流转规则
// GET /api/v1/workflows?category_id=xxx&correction_type_id=yyy
func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	categoryID := c.Query("category_id")
	if categoryID == "" {
		BadRequest(c, "category_id 不能为空")
		return
	}
	key := service.WorkflowKey{CategoryID: categoryID, CorrectionTypeID: correctionTypeParam(c)}
	transitions, err := h.svc.GetTransitions(c.Request.Context(), key)
	if err != nil {
		RespondEngineError(c, err)
		return
	}
	Success(c, gin.H{"transitions": transitions})
}

// SaveWorkflowReq 保存工作流请求
type SaveWorkflowReq struct {
	CategoryID       string                      `json:"category_id" binding:"required"`
	CorrectionTypeID *string                     `json:"correction_type_id"`
	Steps            []service.WorkflowStepInput `json:"transitions" binding:"required"`
}

// SaveWorkflow 整体替换流转规则
// POST /api/v1/workflows
func (h *WorkflowHandler) SaveWorkflow(c *gin.Context) {
	var req SaveWorkflowReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	key := service.WorkflowKey{CategoryID: req.CategoryID, CorrectionTypeID: req.CorrectionTypeID}
	if err := h.svc.SaveWorkflow(c.Request.Context(), key, req.Steps); err != nil {
		RespondEngineError(c, err)
		return
	}
	Success(c, gin.H{"message": "工作流已保存"})
}

// DeleteWorkflowReq 删除工作流请求
type DeleteWorkflowReq struct {
	CategoryID       string  `json:"category_id" binding:"required"`
	CorrectionTypeID *string `json:"correction_type_id"`
}

// DeleteWorkflow 整体删除流转规则
// DELETE /api/v1/workflows
func (h *WorkflowHandler) DeleteWorkflow(c *gin.Context) {
	var req DeleteWorkflowReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	key := service.WorkflowKey{CategoryID: req.CategoryID, CorrectionTypeID: req.CorrectionTypeID}
	if err := h.svc.DeleteWorkflow(c.Request.Context(), key); err != nil {
		RespondEngineError(c, err)
		return
	}
	Success(c, gin.H{"message": "工作流已删除"})
}

// CopyWorkflowReq 复制工作流请求
type CopyWorkflowReq struct {
	SourceCategoryID       string  `json:"source_category_id" binding:"required"`
	SourceCorrectionTypeID *string `json:"source_correction_type_id"`
	TargetCategoryID       string  `json:"target_category_id" binding:"required"`
	TargetCorrectionTypeID *string `json:"target_correction_type_id"`
}

// CopyWorkflow 在两个 (大类, 类型) 键之间复制规则和特批人映射
// POST /api/v1/workflows/copy
func (h *WorkflowHandler) CopyWorkflow(c *gin.Context) {
	var req CopyWorkflowReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	source := service.WorkflowKey{CategoryID: req.SourceCategoryID, CorrectionTypeID: req.SourceCorrectionTypeID}
	target := service.WorkflowKey{CategoryID: req.TargetCategoryID, CorrectionTypeID: req.TargetCorrectionTypeID}
	if err := h.svc.CopyWorkflow(c.Request.Context(), source, target); err != nil {
		RespondEngineError(c, err)
		return
	}
	Success(c, gin.H{"message": "工作流已复制"})
}

// GetSpecialApprovers 获取特批人映射
// GET /api/v1/special-approvers?category_id=xxx&correction_type_id=yyy
func (h *WorkflowHandler) GetSpecialApprovers(c *gin.Context) {
	categoryID := c.Query("category_id")
	if categoryID == "" {
		BadRequest(c, "category_id 不能为空")
		return
	}
	key := service.WorkflowKey{CategoryID: categoryID, CorrectionTypeID: correctionTypeParam(c)}
	mappings, err := h.svc.GetMappings(c.Request.Context(), key)
	if err != nil {
		RespondEngineError(c, err)
		return
	}
	Success(c, gin.H{"mappings": mappings})
}

// SetSpecialApproversReq 保存特批人映射请求
type SetSpecialApproversReq struct {
	CategoryID       string                `json:"category_id" binding:"required"`
	CorrectionTypeID *string               `json:"correction_type_id"`
	Mappings         []service.StepMapping `json:"mappings" binding:"required"`
}

// SetSpecialApprovers 整体替换特批人映射
// POST /api/v1/special-approvers
func (h *WorkflowHandler) SetSpecialApprovers(c *gin.Context) {
	var req SetSpecialApproversReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	key := service.WorkflowKey{CategoryID: req.CategoryID, CorrectionTypeID: req.CorrectionTypeID}
	if err := h.svc.SetMappings(c.Request.Context(), key, req.Mappings); err != nil {
		RespondEngineError(c, err)
		return
	}
	Success(c, gin.H{"message": "特批人映射已保存"})
}
