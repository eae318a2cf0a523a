package service

import (
	"context"
	"encoding/json"
	"time"

	"mallpay/internal/config"
	"mallpay/internal/model"
	"mallpay/internal/repository"
)

// OutboxNotifier 通过事务性发件箱向订单服务投递支付结算结果
// 消息先落库，由 job.OutboxSender 异步发送到 Kafka，失败自动重试
type OutboxNotifier struct {
	outboxRepo *repository.OutboxRepository
	topics     config.KafkaTopicConfig
}

func NewOutboxNotifier(outboxRepo *repository.OutboxRepository, topics config.KafkaTopicConfig) *OutboxNotifier {
	return &OutboxNotifier{
		outboxRepo: outboxRepo,
		topics:     topics,
	}
}

func (n *OutboxNotifier) NotifySettled(ctx context.Context, record *model.PaymentRecord, outcome string) error {
	payload := map[string]interface{}{
		"order_no":       record.OrderNo,
		"payment_no":     record.PaymentNo,
		"user_id":        record.UserID,
		"amount":         record.Amount,
		"payment_type":   record.PaymentType,
		"outcome":        outcome,
		"transaction_id": record.TransactionID,
		"notified_at":    time.Now().Format(time.RFC3339),
	}
	if record.PayTime != nil {
		payload["pay_time"] = record.PayTime.Format(time.RFC3339)
	}
	if outcome == model.PaymentStatusRefunded {
		payload["refund_no"] = record.RefundNo
		payload["refund_amount"] = record.RefundAmount
	}

	payloadBytes, _ := json.Marshal(payload)

	topic := n.topics.PayResult
	if outcome == model.PaymentStatusRefunded {
		topic = n.topics.RefundResult
	}

	msg := &model.OutboxMessage{
		MessageKey: record.OrderNo,
		Topic:      topic,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	return n.outboxRepo.Create(ctx, msg)
}
