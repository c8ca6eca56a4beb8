package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"github.com/yutthachai69/request-sub000/internal/portal/repository"
	"gorm.io/gorm"
)

// PossibleAction 当前可执行的一个动作
type PossibleAction struct {
	TransitionID string `json:"transition_id"`
	ActionID     string `json:"action_id"`
	ActionCode   string `json:"action_code"`
	DisplayName  string `json:"display_name"`
	NextStatusID string `json:"next_status_id"`
}

// StepActions 按审批步骤分组的可执行动作
// AlreadyActed 表示该用户本步已经执行过非驳回动作（幂等提示，不是动作）
type StepActions struct {
	StepSequence int              `json:"step_sequence"`
	AlreadyActed bool             `json:"already_acted"`
	Actions      []PossibleAction `json:"actions"`
}

// ResolverService 动作解析器
// 纯读：给定申请单和操作人，算出当前合法动作集合。
// 这是全系统唯一允许按角色身份做判断的地方。
type ResolverService struct {
	workflowRepo *repository.WorkflowRepository
	historyRepo  *repository.HistoryRepository
	cache        *WorkflowCache
}

// NewResolverService 创建动作解析器
func NewResolverService(workflowRepo *repository.WorkflowRepository, historyRepo *repository.HistoryRepository, cache *WorkflowCache) *ResolverService {
	return &ResolverService{
		workflowRepo: workflowRepo,
		historyRepo:  historyRepo,
		cache:        cache,
	}
}

// ResolvePossibleActions 计算操作人在申请单当前状态下可执行的动作
// exec 不为 nil 时历史记录走该事务连接读取（Executor 锁内复核场景）
func (s *ResolverService) ResolvePossibleActions(ctx context.Context, exec *gorm.DB, req *entity.CorrectionRequest, actingUser *entity.User) ([]StepActions, error) {
	transitions, err := s.loadTransitions(ctx, req.CategoryID, req.CorrectionTypeID)
	if err != nil {
		return nil, fmt.Errorf("加载流转规则失败: %w", err)
	}

	// 映射跟着实际命中的规则集走：类型键回退到通用规则集时，
	// 特批人也按通用键读取，两者不能各用各的键
	mappingTypeID := req.CorrectionTypeID
	if len(transitions) > 0 {
		mappingTypeID = transitions[0].CorrectionTypeID
	}
	mappings, err := s.workflowRepo.FindMappings(ctx, req.CategoryID, mappingTypeID)
	if err != nil {
		return nil, fmt.Errorf("加载特批人映射失败: %w", err)
	}
	mappedUsers := make(map[int]map[string]bool)
	for _, m := range mappings {
		if mappedUsers[m.StepSequence] == nil {
			mappedUsers[m.StepSequence] = make(map[string]bool)
		}
		mappedUsers[m.StepSequence][m.UserID] = true
	}

	actedSteps, err := s.actedSteps(ctx, exec, req.ID, actingUser.ID)
	if err != nil {
		return nil, fmt.Errorf("读取审批历史失败: %w", err)
	}

	groups := make(map[int]*StepActions)
	for _, t := range transitions {
		if t.CurrentStatusID != req.CurrentStatusID {
			continue
		}

		// 本步已执行过非驳回动作 → 整步抑制，只给幂等提示
		if actedSteps[t.StepSequence] {
			if groups[t.StepSequence] == nil {
				groups[t.StepSequence] = &StepActions{StepSequence: t.StepSequence, AlreadyActed: true}
			}
			groups[t.StepSequence].AlreadyActed = true
			continue
		}

		if !s.eligible(&t, req, actingUser, mappedUsers[t.StepSequence]) {
			continue
		}

		if groups[t.StepSequence] == nil {
			groups[t.StepSequence] = &StepActions{StepSequence: t.StepSequence}
		}
		displayName := ""
		actionCode := ""
		if t.Action != nil {
			displayName = t.Action.Name
			actionCode = t.Action.Code
		}
		groups[t.StepSequence].Actions = append(groups[t.StepSequence].Actions, PossibleAction{
			TransitionID: t.ID,
			ActionID:     t.ActionID,
			ActionCode:   actionCode,
			DisplayName:  displayName,
			NextStatusID: t.NextStatusID,
		})
	}

	result := make([]StepActions, 0, len(groups))
	for _, g := range groups {
		result = append(result, *g)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StepSequence < result[j].StepSequence
	})
	return result, nil
}

// EligibleUsersForStep 计算某一步的合格审批人（下一步通知用）
// 有特批人映射时以映射为唯一依据，否则按角色（+可选部门）匹配
func (s *ResolverService) EligibleUsersForStep(ctx context.Context, userRepo *repository.UserRepository, req *entity.CorrectionRequest, t *entity.WorkflowTransition, mappedUserIDs []string) ([]entity.User, error) {
	if len(mappedUserIDs) > 0 {
		return userRepo.FindByIDs(ctx, mappedUserIDs)
	}
	departmentID := ""
	if t.FilterByDepartment {
		departmentID = req.DepartmentID
	}
	return userRepo.FindByRole(ctx, t.RequiredRoleID, departmentID)
}

// CandidateTransitions 申请单当前状态下的候选流转（按步骤升序）
func (s *ResolverService) CandidateTransitions(ctx context.Context, req *entity.CorrectionRequest) ([]entity.WorkflowTransition, error) {
	transitions, err := s.loadTransitions(ctx, req.CategoryID, req.CorrectionTypeID)
	if err != nil {
		return nil, err
	}
	var candidates []entity.WorkflowTransition
	for _, t := range transitions {
		if t.CurrentStatusID == req.CurrentStatusID {
			candidates = append(candidates, t)
		}
	}
	return candidates, nil
}

// MappedUserIDs 某键某步的特批人ID列表
func (s *ResolverService) MappedUserIDs(ctx context.Context, categoryID string, correctionTypeID *string, step int) ([]string, error) {
	mappings, err := s.workflowRepo.FindMappings(ctx, categoryID, correctionTypeID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, m := range mappings {
		if m.StepSequence == step {
			ids = append(ids, m.UserID)
		}
	}
	return ids, nil
}

func (s *ResolverService) loadTransitions(ctx context.Context, categoryID string, correctionTypeID *string) ([]entity.WorkflowTransition, error) {
	if cached := s.cache.Get(ctx, categoryID, correctionTypeID); cached != nil {
		return cached, nil
	}
	transitions, err := s.workflowRepo.FindTransitions(ctx, categoryID, correctionTypeID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, categoryID, correctionTypeID, transitions)
	return transitions, nil
}

// eligible 单条流转的资格判断
func (s *ResolverService) eligible(t *entity.WorkflowTransition, req *entity.CorrectionRequest, user *entity.User, mapped map[string]bool) bool {
	// 特批人映射存在时是该步的唯一授权来源
	if len(mapped) > 0 {
		return mapped[user.ID]
	}
	if user.RoleID != t.RequiredRoleID {
		return false
	}
	if t.FilterByDepartment && user.DepartmentID != req.DepartmentID {
		return false
	}
	return true
}

// actedSteps 该用户已执行过非驳回动作的步骤集合
// 只统计最近一次 RESUBMIT 之后的记录：打回重提后全流程重新审批
func (s *ResolverService) actedSteps(ctx context.Context, exec *gorm.DB, requestID, userID string) (map[int]bool, error) {
	rows, err := s.historyRepo.ListForRequest(ctx, exec, requestID)
	if err != nil {
		return nil, err
	}

	var lastResubmit time.Time
	for _, row := range rows {
		if row.ActionType == entity.ActionCodeResubmit && row.Timestamp.After(lastResubmit) {
			lastResubmit = row.Timestamp
		}
	}

	acted := make(map[int]bool)
	for _, row := range rows {
		if row.ApproverID != userID {
			continue
		}
		if row.ActionType == entity.ActionCodeReject || row.ActionType == entity.ActionCodeResubmit {
			continue
		}
		if !lastResubmit.IsZero() && !row.Timestamp.After(lastResubmit) {
			continue
		}
		acted[row.ApprovalLevel] = true
	}
	return acted, nil
}
