package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/yutthachai69/request-sub000/internal/portal/repository"
)

// LookupHandler 基础数据查询处理器
type LookupHandler struct {
	lookupRepo *repository.LookupRepository
	userRepo   *repository.UserRepository
}

// NewLookupHandler 创建基础数据处理器
func NewLookupHandler(lookupRepo *repository.LookupRepository, userRepo *repository.UserRepository) *LookupHandler {
	return &LookupHandler{lookupRepo: lookupRepo, userRepo: userRepo}
}

// ListCategories GET /api/v1/categories
func (h *LookupHandler) ListCategories(c *gin.Context) {
	items, err := h.lookupRepo.ListCategories(c.Request.Context())
	if err != nil {
		InternalError(c, "查询类别失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": items})
}

// ListCorrectionTypes GET /api/v1/correction-types?category_id=
func (h *LookupHandler) ListCorrectionTypes(c *gin.Context) {
	items, err := h.lookupRepo.ListCorrectionTypes(c.Request.Context(), c.Query("category_id"))
	if err != nil {
		InternalError(c, "查询更正类型失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": items})
}

// ListStatuses GET /api/v1/statuses
func (h *LookupHandler) ListStatuses(c *gin.Context) {
	items, err := h.lookupRepo.ListStatuses(c.Request.Context())
	if err != nil {
		InternalError(c, "查询状态失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": items})
}

// ListActions GET /api/v1/actions
func (h *LookupHandler) ListActions(c *gin.Context) {
	items, err := h.lookupRepo.ListActions(c.Request.Context())
	if err != nil {
		InternalError(c, "查询动作失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": items})
}

// ListRoles GET /api/v1/roles
func (h *LookupHandler) ListRoles(c *gin.Context) {
	items, err := h.lookupRepo.ListRoles(c.Request.Context())
	if err != nil {
		InternalError(c, "查询角色失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": items})
}

// ListUsers GET /api/v1/users
func (h *LookupHandler) ListUsers(c *gin.Context) {
	items, err := h.userRepo.ListAll(c.Request.Context())
	if err != nil {
		InternalError(c, "查询用户失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": items})
}
