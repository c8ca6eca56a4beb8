package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"go.uber.org/zap"
)

const (
	workflowCacheKeyPrefix = "workflow:transitions:"
	workflowCacheTTL       = 5 * time.Minute
)

// WorkflowCache 工作流规则缓存
// 规则表读多写少，按 (category, type) 键缓存整个规则集；
// saveWorkflow/deleteWorkflow/copyWorkflow 时按大类显式失效。
// Redis 不可用时静默回源数据库。
type WorkflowCache struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewWorkflowCache 创建工作流规则缓存
func NewWorkflowCache(rdb *redis.Client, logger *zap.Logger) *WorkflowCache {
	return &WorkflowCache{rdb: rdb, logger: logger}
}

func workflowCacheKey(categoryID string, correctionTypeID *string) string {
	typeKey := "general"
	if correctionTypeID != nil && *correctionTypeID != "" {
		typeKey = *correctionTypeID
	}
	return workflowCacheKeyPrefix + categoryID + ":" + typeKey
}

// Get 读取缓存的规则集，未命中或错误返回 nil
func (c *WorkflowCache) Get(ctx context.Context, categoryID string, correctionTypeID *string) []entity.WorkflowTransition {
	if c == nil || c.rdb == nil {
		return nil
	}
	raw, err := c.rdb.Get(ctx, workflowCacheKey(categoryID, correctionTypeID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("workflow cache read failed", zap.Error(err))
		}
		return nil
	}
	var transitions []entity.WorkflowTransition
	if err := json.Unmarshal(raw, &transitions); err != nil {
		c.logger.Warn("workflow cache decode failed", zap.Error(err))
		return nil
	}
	return transitions
}

// Set 写入规则集缓存
func (c *WorkflowCache) Set(ctx context.Context, categoryID string, correctionTypeID *string, transitions []entity.WorkflowTransition) {
	if c == nil || c.rdb == nil {
		return
	}
	raw, err := json.Marshal(transitions)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, workflowCacheKey(categoryID, correctionTypeID), raw, workflowCacheTTL).Err(); err != nil {
		c.logger.Warn("workflow cache write failed", zap.Error(err))
	}
}

// InvalidateCategory 失效某大类下全部规则集缓存
// 通用规则集变更会影响回退到它的所有类型，所以按大类整体清
func (c *WorkflowCache) InvalidateCategory(ctx context.Context, categoryID string) {
	if c == nil || c.rdb == nil {
		return
	}
	pattern := fmt.Sprintf("%s%s:*", workflowCacheKeyPrefix, categoryID)
	iter := c.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("workflow cache invalidate failed", zap.String("key", iter.Val()), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("workflow cache scan failed", zap.Error(err))
	}
}
