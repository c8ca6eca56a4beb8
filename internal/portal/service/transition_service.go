package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"github.com/yutthachai69/request-sub000/internal/portal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 邮件模板名（渲染与发送在核心之外）
const (
	EmailTemplateRevisionRequired = "RevisionRequired"
	EmailTemplateRequestCompleted = "RequestCompleted"
)

// ITProcessData IT处理动作的附加数据
type ITProcessData struct {
	OperatorName string `json:"operator_name"`
	CompletedAt  string `json:"completed_at"`
}

// ActionPayload 执行动作的载荷
type ActionPayload struct {
	Comment string         `json:"comment"`
	ITData  *ITProcessData `json:"it_data"`
}

// ActionResult 动作执行结果，供通知协作方消费
type ActionResult struct {
	Request       *entity.CorrectionRequest `json:"request"`
	ActionCode    string                    `json:"action_code"`
	StepSequence  int                       `json:"step_sequence"`
	NextStatus    *entity.Status            `json:"next_status"`
	NextApprovers []entity.User             `json:"next_approvers,omitempty"`
	RequesterInfo *entity.User              `json:"requester_info,omitempty"`
	EmailTemplate string                    `json:"email_template,omitempty"`
}

// BulkItemFailure 批量操作中单条失败明细
type BulkItemFailure struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// BulkResult 批量操作汇总
type BulkResult struct {
	Succeeded      []string          `json:"succeeded"`
	Failed         []BulkItemFailure `json:"failed"`
	SucceededCount int               `json:"succeeded_count"`
	FailedCount    int               `json:"failed_count"`
}

// TransitionService 流转执行器
// 唯一允许改写申请单状态和追加审批历史的组件
type TransitionService struct {
	db          *gorm.DB
	requestRepo *repository.RequestRepository
	historyRepo *repository.HistoryRepository
	lookupRepo  *repository.LookupRepository
	userRepo    *repository.UserRepository
	resolver    *ResolverService
	notifier    *Notifier
	logger      *zap.Logger
}

// NewTransitionService 创建流转执行器
func NewTransitionService(db *gorm.DB, repos *repository.Repositories, resolver *ResolverService, notifier *Notifier, logger *zap.Logger) *TransitionService {
	return &TransitionService{
		db:          db,
		requestRepo: repos.Request,
		historyRepo: repos.History,
		lookupRepo:  repos.Lookup,
		userRepo:    repos.User,
		resolver:    resolver,
		notifier:    notifier,
		logger:      logger,
	}
}

// PerformAction 对申请单执行一个审批动作
// 行锁内复核资格（客户端的可执行动作快照只是提示），一个事务内写历史、推状态；
// 提交后才计算下一步审批人并异步发通知。
func (s *TransitionService) PerformAction(ctx context.Context, requestID, actionCode string, actingUser *entity.User, payload ActionPayload) (*ActionResult, error) {
	action, err := s.lookupRepo.FindActionByCode(ctx, strings.TrimSpace(actionCode))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewError(CodeNotFound, "未知动作: %s", actionCode)
		}
		return nil, err
	}

	// 乐观预读：锁内状态与这里不一致说明有并发事务先行提交
	preRead, err := s.requestRepo.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewError(CodeNotFound, "申请单不存在: %s", requestID)
		}
		return nil, err
	}

	var matched *PossibleAction
	var matchedStep int

	err = s.db.Transaction(func(tx *gorm.DB) error {
		locked, err := s.requestRepo.LockByID(ctx, tx, requestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return NewError(CodeNotFound, "申请单不存在: %s", requestID)
			}
			return err
		}

		if locked.CurrentStatusID != preRead.CurrentStatusID {
			return NewError(CodeStaleState, "申请单状态已被并发操作改变，请刷新后重试")
		}

		// 锁内复核：绝不信任客户端提交的资格快照
		steps, err := s.resolver.ResolvePossibleActions(ctx, tx, locked, actingUser)
		if err != nil {
			return err
		}
		matched = nil
		for i := range steps {
			if steps[i].AlreadyActed {
				continue
			}
			for j := range steps[i].Actions {
				if steps[i].Actions[j].ActionID == action.ID {
					matched = &steps[i].Actions[j]
					matchedStep = steps[i].StepSequence
					break
				}
			}
			if matched != nil {
				break
			}
		}
		if matched == nil {
			return NewError(CodePermissionDenied, "当前状态下您无权执行动作 %s", action.Code)
		}

		// 载荷校验在资格确认之后：无权操作人不应得到载荷级错误
		if err := s.validatePayload(action, payload); err != nil {
			return err
		}

		now := time.Now()
		history := &entity.ApprovalHistory{
			ID:            uuid.New().String(),
			RequestID:     requestID,
			ApprovalLevel: matchedStep,
			ApproverID:    actingUser.ID,
			ActionType:    action.Code,
			Comment:       payload.Comment,
			Timestamp:     now,
		}
		if err := s.historyRepo.Append(ctx, tx, history); err != nil {
			return fmt.Errorf("写入审批历史失败: %w", err)
		}

		var itData entity.JSONB
		if action.Code == entity.ActionCodeITProcess && payload.ITData != nil {
			itData = entity.JSONB{
				"operator_name": payload.ITData.OperatorName,
				"completed_at":  payload.ITData.CompletedAt,
				"processed_by":  actingUser.ID,
			}
		}
		if err := s.requestRepo.UpdateStatus(ctx, tx, requestID, matched.NextStatusID, itData); err != nil {
			return fmt.Errorf("更新申请单状态失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 提交之后才做通知计算，协作方失败不回滚已提交的流转
	result, err := s.buildResult(ctx, requestID, action.Code, matchedStep, matched.NextStatusID)
	if err != nil {
		s.logger.Warn("动作已提交，但通知载荷计算失败",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return &ActionResult{ActionCode: action.Code, StepSequence: matchedStep}, nil
	}

	if s.notifier != nil {
		go s.notifier.PublishTransition(context.Background(), result)
	}
	return result, nil
}

// PerformBulkAction 对一批申请单执行同一动作
// 每单独立事务，单条失败不中断、不回滚其他：响应始终给出逐条结果
func (s *TransitionService) PerformBulkAction(ctx context.Context, requestIDs []string, actionCode, comment string, actingUser *entity.User) *BulkResult {
	result := &BulkResult{
		Succeeded: []string{},
		Failed:    []BulkItemFailure{},
	}
	payload := ActionPayload{Comment: comment}

	for _, id := range requestIDs {
		if _, err := s.PerformAction(ctx, id, actionCode, actingUser, payload); err != nil {
			code := CodeOf(err)
			if code == "" {
				code = "INTERNAL"
			}
			result.Failed = append(result.Failed, BulkItemFailure{
				ID:     id,
				Code:   code,
				Reason: err.Error(),
			})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}

	result.SucceededCount = len(result.Succeeded)
	result.FailedCount = len(result.Failed)
	s.logger.Info("bulk action finished",
		zap.String("action", actionCode),
		zap.Int("succeeded", result.SucceededCount),
		zap.Int("failed", result.FailedCount),
	)
	return result
}

// validatePayload 按动作类型校验载荷
func (s *TransitionService) validatePayload(action *entity.Action, payload ActionPayload) error {
	switch action.Code {
	case entity.ActionCodeReject:
		if strings.TrimSpace(payload.Comment) == "" {
			return NewError(CodeValidationError, "驳回必须填写意见")
		}
	case entity.ActionCodeITProcess:
		if payload.ITData == nil || strings.TrimSpace(payload.ITData.OperatorName) == "" || strings.TrimSpace(payload.ITData.CompletedAt) == "" {
			return NewError(CodeValidationError, "IT处理必须提供 operator_name 和 completed_at")
		}
	}
	return nil
}

// buildResult 提交后装配通知载荷：
// 新状态是 REVISION_REQUIRED/COMPLETED 时通知申请人，否则算下一步审批人
func (s *TransitionService) buildResult(ctx context.Context, requestID, actionCode string, step int, nextStatusID string) (*ActionResult, error) {
	req, err := s.requestRepo.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	nextStatus, err := s.lookupRepo.FindStatusByID(ctx, nextStatusID)
	if err != nil {
		return nil, err
	}

	result := &ActionResult{
		Request:      req,
		ActionCode:   actionCode,
		StepSequence: step,
		NextStatus:   nextStatus,
	}

	switch nextStatus.Code {
	case entity.StatusCodeRevisionRequired, entity.StatusCodeCompleted:
		requester, err := s.userRepo.FindByID(ctx, req.RequesterID)
		if err != nil {
			return nil, fmt.Errorf("查找申请人失败: %w", err)
		}
		result.RequesterInfo = requester
		if nextStatus.Code == entity.StatusCodeRevisionRequired {
			result.EmailTemplate = EmailTemplateRevisionRequired
		} else {
			result.EmailTemplate = EmailTemplateRequestCompleted
		}
	default:
		approvers, err := s.nextApprovers(ctx, req)
		if err != nil {
			return nil, err
		}
		result.NextApprovers = approvers
	}
	return result, nil
}

// nextApprovers 新状态下最小步骤组的全部合格审批人（去重）
func (s *TransitionService) nextApprovers(ctx context.Context, req *entity.CorrectionRequest) ([]entity.User, error) {
	candidates, err := s.resolver.CandidateTransitions(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	minStep := candidates[0].StepSequence
	for _, t := range candidates {
		if t.StepSequence < minStep {
			minStep = t.StepSequence
		}
	}

	seen := make(map[string]bool)
	var approvers []entity.User
	for _, t := range candidates {
		if t.StepSequence != minStep {
			continue
		}
		// 按流转规则自身的键取映射，类型键回退到通用规则集时映射同样回退
		mapped, err := s.resolver.MappedUserIDs(ctx, t.CategoryID, t.CorrectionTypeID, t.StepSequence)
		if err != nil {
			return nil, err
		}
		users, err := s.resolver.EligibleUsersForStep(ctx, s.userRepo, req, &t, mapped)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if !seen[u.ID] {
				seen[u.ID] = true
				approvers = append(approvers, u)
			}
		}
	}
	return approvers, nil
}
