package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"github.com/yutthachai69/request-sub000/internal/portal/sse"
	"github.com/yutthachai69/request-sub000/internal/shared/mailer"
	"go.uber.org/zap"
)

// EventChannel 流转事件发布频道
const EventChannel = "portal:events"

// TransitionEvent 发布到 pub/sub 的流转事件（不保证送达）
type TransitionEvent struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Message   string `json:"message"`
}

// Notifier 流转通知分发
// 必须在事务提交之后异步调用；所有失败只记日志，绝不回滚已提交的流转
type Notifier struct {
	rdb    *redis.Client
	mailer *mailer.Mailer
	logger *zap.Logger
}

// NewNotifier 创建通知分发器
func NewNotifier(rdb *redis.Client, m *mailer.Mailer, logger *zap.Logger) *Notifier {
	return &Notifier{rdb: rdb, mailer: m, logger: logger}
}

// PublishTransition 分发一次已提交的流转：pub/sub + SSE + 邮件
func (n *Notifier) PublishTransition(ctx context.Context, result *ActionResult) {
	if result == nil || result.Request == nil {
		return
	}
	req := result.Request
	statusCode := ""
	statusName := ""
	if result.NextStatus != nil {
		statusCode = result.NextStatus.Code
		statusName = result.NextStatus.Name
	}

	n.publishEvent(ctx, TransitionEvent{
		Type:      "request_transition",
		RequestID: req.ID,
		Message:   fmt.Sprintf("%s → %s (%s)", result.ActionCode, statusCode, req.Title),
	})

	sse.PublishRequestUpdate(req.ID, statusCode, result.ActionCode)

	// 邮件：终态/打回 → 通知申请人；中间态 → 通知下一步审批人
	if result.RequesterInfo != nil && result.EmailTemplate != "" {
		n.sendMail([]entity.User{*result.RequesterInfo},
			fmt.Sprintf("[%s] %s", statusName, req.Title),
			result.EmailTemplate,
			map[string]string{
				"request_code": req.Code,
				"title":        req.Title,
				"status":       statusName,
				"full_name":    result.RequesterInfo.FullName,
			})
		return
	}
	if len(result.NextApprovers) > 0 {
		n.sendMail(result.NextApprovers,
			fmt.Sprintf("待审批: %s", req.Title),
			"ApprovalPending",
			map[string]string{
				"request_code": req.Code,
				"title":        req.Title,
				"status":       statusName,
			})
	}
}

func (n *Notifier) publishEvent(ctx context.Context, event TransitionEvent) {
	if n.rdb == nil {
		return
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := n.rdb.Publish(ctx, EventChannel, raw).Err(); err != nil {
		n.logger.Warn("发布流转事件失败",
			zap.String("request_id", event.RequestID),
			zap.Error(err),
		)
	}
}

func (n *Notifier) sendMail(recipients []entity.User, subject, template string, data map[string]string) {
	if !n.mailer.Enabled() {
		return
	}
	var to []string
	for _, u := range recipients {
		if u.Email != "" {
			to = append(to, u.Email)
		}
	}
	if len(to) == 0 {
		return
	}
	if err := n.mailer.Send(to, subject, template, data); err != nil {
		n.logger.Warn("发送通知邮件失败",
			zap.String("template", template),
			zap.Int("recipients", len(to)),
			zap.Error(err),
		)
	}
}
