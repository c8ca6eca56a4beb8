package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"github.com/yutthachai69/request-sub000/internal/portal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WorkflowKey 工作流规则集键 (category, correction_type)
type WorkflowKey struct {
	CategoryID       string  `json:"category_id"`
	CorrectionTypeID *string `json:"correction_type_id"`
}

// WorkflowStepInput 保存工作流时的单步定义（非驳回主路径）
// CurrentStatusID 缺省时由上一步的 NextStatusID 推导，首步从 INITIAL 起
type WorkflowStepInput struct {
	CurrentStatusID    string `json:"current_status_id"`
	ActionID           string `json:"action_id" binding:"required"`
	RequiredRoleID     string `json:"required_role_id" binding:"required"`
	NextStatusID       string `json:"next_status_id" binding:"required"`
	FilterByDepartment bool   `json:"filter_by_department"`
}

// StepMapping 某一步的特批人集合
type StepMapping struct {
	Step    int      `json:"step"`
	UserIDs []string `json:"user_ids"`
}

// WorkflowAdminService 工作流配置服务（规则存储 + 特批人覆盖存储）
type WorkflowAdminService struct {
	workflowRepo *repository.WorkflowRepository
	lookupRepo   *repository.LookupRepository
	cache        *WorkflowCache
	logger       *zap.Logger
}

// NewWorkflowAdminService 创建工作流配置服务
func NewWorkflowAdminService(workflowRepo *repository.WorkflowRepository, lookupRepo *repository.LookupRepository, cache *WorkflowCache, logger *zap.Logger) *WorkflowAdminService {
	return &WorkflowAdminService{
		workflowRepo: workflowRepo,
		lookupRepo:   lookupRepo,
		cache:        cache,
		logger:       logger,
	}
}

// GetTransitions 获取某键的流转规则（类型专属优先，否则回退通用规则集）
func (s *WorkflowAdminService) GetTransitions(ctx context.Context, key WorkflowKey) ([]entity.WorkflowTransition, error) {
	return s.workflowRepo.FindTransitions(ctx, key.CategoryID, key.CorrectionTypeID)
}

// SaveWorkflow 整体替换某键的工作流（先删后插，同一事务）
// 每步自动生成同序号的驳回镜像，目标状态 REVISION_REQUIRED
func (s *WorkflowAdminService) SaveWorkflow(ctx context.Context, key WorkflowKey, steps []WorkflowStepInput) error {
	if len(steps) == 0 {
		return NewError(CodeConfigIncomplete, "工作流至少需要一个审批步骤")
	}
	if _, err := s.lookupRepo.FindCategoryByID(ctx, key.CategoryID); err != nil {
		if err == repository.ErrNotFound {
			return NewError(CodeNotFound, "大类不存在: %s", key.CategoryID)
		}
		return err
	}

	initial, revision, completed, rejectAction, err := s.loadBuiltins(ctx)
	if err != nil {
		return err
	}

	for i, step := range steps {
		if step.RequiredRoleID == "" || step.ActionID == "" || step.NextStatusID == "" {
			return NewError(CodeConfigIncomplete, "第 %d 步缺少必填项（角色/动作/下一状态）", i)
		}
	}
	if steps[len(steps)-1].NextStatusID != completed.ID {
		return NewError(CodeConfigIncomplete, "最后一步必须流转到 COMPLETED")
	}

	// 推导每步的当前状态并沿主路径查环：
	// 从 INITIAL 沿 NextStatusID 走必须无重复地终止在 COMPLETED
	visited := map[string]bool{initial.ID: true}
	current := initial.ID
	rows := make([]entity.WorkflowTransition, 0, len(steps)*2)
	now := time.Now()

	for i, step := range steps {
		currentStatusID := step.CurrentStatusID
		if currentStatusID == "" {
			currentStatusID = current
		}
		if visited[step.NextStatusID] {
			return NewError(CodeConfigIncomplete, "第 %d 步的下一状态在主路径上重复出现，工作流存在环", i)
		}
		visited[step.NextStatusID] = true
		current = step.NextStatusID

		rows = append(rows, entity.WorkflowTransition{
			ID:                 uuid.New().String(),
			CategoryID:         key.CategoryID,
			CorrectionTypeID:   key.CorrectionTypeID,
			CurrentStatusID:    currentStatusID,
			ActionID:           step.ActionID,
			RequiredRoleID:     step.RequiredRoleID,
			NextStatusID:       step.NextStatusID,
			StepSequence:       i,
			FilterByDepartment: step.FilterByDepartment,
			CreatedAt:          now,
		})

		// 驳回镜像：同步骤、同角色，目标 REVISION_REQUIRED
		if step.ActionID != rejectAction.ID {
			rows = append(rows, entity.WorkflowTransition{
				ID:                 uuid.New().String(),
				CategoryID:         key.CategoryID,
				CorrectionTypeID:   key.CorrectionTypeID,
				CurrentStatusID:    currentStatusID,
				ActionID:           rejectAction.ID,
				RequiredRoleID:     step.RequiredRoleID,
				NextStatusID:       revision.ID,
				StepSequence:       i,
				FilterByDepartment: step.FilterByDepartment,
				CreatedAt:          now,
			})
		}
	}

	err = s.workflowRepo.DB().Transaction(func(tx *gorm.DB) error {
		return s.workflowRepo.ReplaceTransitions(ctx, tx, key.CategoryID, key.CorrectionTypeID, rows)
	})
	if err != nil {
		return fmt.Errorf("保存工作流失败: %w", err)
	}

	s.cache.InvalidateCategory(ctx, key.CategoryID)
	s.logger.Info("workflow saved",
		zap.String("category_id", key.CategoryID),
		zap.Int("steps", len(steps)),
	)
	return nil
}

// DeleteWorkflow 整体删除某键的流转规则
func (s *WorkflowAdminService) DeleteWorkflow(ctx context.Context, key WorkflowKey) error {
	if err := s.workflowRepo.DeleteTransitions(ctx, key.CategoryID, key.CorrectionTypeID); err != nil {
		return fmt.Errorf("删除工作流失败: %w", err)
	}
	s.cache.InvalidateCategory(ctx, key.CategoryID)
	s.logger.Info("workflow deleted", zap.String("category_id", key.CategoryID))
	return nil
}

// CopyWorkflow 把一个键的流转规则和特批人映射复制到另一个键
// 源键没有任何规则时返回 NOT_FOUND；目标键原有规则被整体替换
func (s *WorkflowAdminService) CopyWorkflow(ctx context.Context, source, target WorkflowKey) error {
	transitions, err := s.workflowRepo.FindTransitionsExact(ctx, source.CategoryID, source.CorrectionTypeID)
	if err != nil {
		return fmt.Errorf("读取源工作流失败: %w", err)
	}
	if len(transitions) == 0 {
		return NewError(CodeNotFound, "源工作流没有任何规则")
	}
	mappings, err := s.workflowRepo.FindMappings(ctx, source.CategoryID, source.CorrectionTypeID)
	if err != nil {
		return fmt.Errorf("读取源特批人映射失败: %w", err)
	}

	now := time.Now()
	newTransitions := make([]entity.WorkflowTransition, 0, len(transitions))
	for _, t := range transitions {
		newTransitions = append(newTransitions, entity.WorkflowTransition{
			ID:                 uuid.New().String(),
			CategoryID:         target.CategoryID,
			CorrectionTypeID:   target.CorrectionTypeID,
			CurrentStatusID:    t.CurrentStatusID,
			ActionID:           t.ActionID,
			RequiredRoleID:     t.RequiredRoleID,
			NextStatusID:       t.NextStatusID,
			StepSequence:       t.StepSequence,
			FilterByDepartment: t.FilterByDepartment,
			CreatedAt:          now,
		})
	}
	newMappings := make([]entity.SpecialApproverMapping, 0, len(mappings))
	for _, m := range mappings {
		newMappings = append(newMappings, entity.SpecialApproverMapping{
			ID:               uuid.New().String(),
			CategoryID:       target.CategoryID,
			CorrectionTypeID: target.CorrectionTypeID,
			StepSequence:     m.StepSequence,
			UserID:           m.UserID,
			CreatedAt:        now,
		})
	}

	err = s.workflowRepo.DB().Transaction(func(tx *gorm.DB) error {
		if err := s.workflowRepo.ReplaceTransitions(ctx, tx, target.CategoryID, target.CorrectionTypeID, newTransitions); err != nil {
			return err
		}
		return s.workflowRepo.ReplaceMappings(ctx, tx, target.CategoryID, target.CorrectionTypeID, newMappings)
	})
	if err != nil {
		return fmt.Errorf("复制工作流失败: %w", err)
	}

	s.cache.InvalidateCategory(ctx, target.CategoryID)
	s.logger.Info("workflow copied",
		zap.String("source_category", source.CategoryID),
		zap.String("target_category", target.CategoryID),
		zap.Int("transitions", len(newTransitions)),
	)
	return nil
}

// GetMappings 获取某键的特批人映射，按步骤聚合
func (s *WorkflowAdminService) GetMappings(ctx context.Context, key WorkflowKey) ([]StepMapping, error) {
	rows, err := s.workflowRepo.FindMappings(ctx, key.CategoryID, key.CorrectionTypeID)
	if err != nil {
		return nil, err
	}
	byStep := make(map[int][]string)
	for _, m := range rows {
		byStep[m.StepSequence] = append(byStep[m.StepSequence], m.UserID)
	}
	result := make([]StepMapping, 0, len(byStep))
	for step, ids := range byStep {
		result = append(result, StepMapping{Step: step, UserIDs: ids})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Step < result[j].Step })
	return result, nil
}

// SetMappings 整体替换某键的特批人映射；UserIDs 为空表示移除该步覆盖
func (s *WorkflowAdminService) SetMappings(ctx context.Context, key WorkflowKey, mappings []StepMapping) error {
	now := time.Now()
	var rows []entity.SpecialApproverMapping
	for _, m := range mappings {
		for _, uid := range m.UserIDs {
			rows = append(rows, entity.SpecialApproverMapping{
				ID:               uuid.New().String(),
				CategoryID:       key.CategoryID,
				CorrectionTypeID: key.CorrectionTypeID,
				StepSequence:     m.Step,
				UserID:           uid,
				CreatedAt:        now,
			})
		}
	}
	err := s.workflowRepo.DB().Transaction(func(tx *gorm.DB) error {
		return s.workflowRepo.ReplaceMappings(ctx, tx, key.CategoryID, key.CorrectionTypeID, rows)
	})
	if err != nil {
		return fmt.Errorf("保存特批人映射失败: %w", err)
	}
	s.logger.Info("special approver mappings saved",
		zap.String("category_id", key.CategoryID),
		zap.Int("rows", len(rows)),
	)
	return nil
}

func (s *WorkflowAdminService) loadBuiltins(ctx context.Context) (initial, revision, completed *entity.Status, reject *entity.Action, err error) {
	if initial, err = s.lookupRepo.FindStatusByCode(ctx, entity.StatusCodeInitial); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("内置状态 INITIAL 缺失: %w", err)
	}
	if revision, err = s.lookupRepo.FindStatusByCode(ctx, entity.StatusCodeRevisionRequired); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("内置状态 REVISION_REQUIRED 缺失: %w", err)
	}
	if completed, err = s.lookupRepo.FindStatusByCode(ctx, entity.StatusCodeCompleted); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("内置状态 COMPLETED 缺失: %w", err)
	}
	if reject, err = s.lookupRepo.FindActionByCode(ctx, entity.ActionCodeReject); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("内置动作 REJECT 缺失: %w", err)
	}
	return initial, revision, completed, reject, nil
}
