package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"github.com/yutthachai69/request-sub000/internal/portal/repository"
	"github.com/yutthachai69/request-sub000/internal/portal/service"
)

// Handlers 处理器集合
type Handlers struct {
	Workflow *WorkflowHandler
	Request  *RequestHandler
	Lookup   *LookupHandler
	SSE      *SSEHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, repos *repository.Repositories) *Handlers {
	return &Handlers{
		Workflow: NewWorkflowHandler(svc.WorkflowAdmin),
		Request:  NewRequestHandler(svc, repos.User),
		Lookup:   NewLookupHandler(repos.Lookup, repos.User),
		SSE:      NewSSEHandler(),
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应，HTTP 状态取业务码前三位
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// Forbidden 禁止访问响应
func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// RespondEngineError 按引擎错误码映射响应
// STALE_STATE 返回 409，调用方重新拉取可执行动作后重试即可
func RespondEngineError(c *gin.Context, err error) {
	msg := err.Error()
	switch service.CodeOf(err) {
	case service.CodeValidationError:
		Error(c, 40001, msg)
	case service.CodePermissionDenied:
		Error(c, 40301, msg)
	case service.CodeNotFound:
		Error(c, 40400, msg)
	case service.CodeStaleState:
		Error(c, 40900, msg)
	case service.CodeConfigIncomplete:
		Error(c, 42200, msg)
	default:
		InternalError(c, msg)
	}
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

// loadActingUser 按 JWT 里的用户ID加载操作人（含角色/部门）
func loadActingUser(c *gin.Context, userRepo *repository.UserRepository) (*entity.User, bool) {
	userID := GetUserID(c)
	if userID == "" {
		Error(c, 40100, "未登录")
		return nil, false
	}
	user, err := userRepo.FindByID(c.Request.Context(), userID)
	if err != nil {
		Error(c, 40101, "用户不存在或已停用")
		return nil, false
	}
	return user, true
}

// correctionTypeParam 解析可选的 correction_type_id 查询参数
func correctionTypeParam(c *gin.Context) *string {
	if v := c.Query("correction_type_id"); v != "" {
		return &v
	}
	return nil
}
