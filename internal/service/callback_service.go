package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"mallpay/internal/config"
	"mallpay/internal/model"
	"mallpay/pkg/sign"
)

var (
	ErrInvalidSignature       = errors.New("回调验签失败")
	ErrMalformedCallback      = errors.New("回调报文缺少必要字段")
	ErrUnknownChannel         = errors.New("未知支付渠道")
	ErrCallbackAmountMismatch = errors.New("回调金额与支付记录不一致，已记录待人工核查")
	ErrIllegalTransition      = errors.New("支付状态不允许该回调流转")
	ErrConcurrentConflict     = errors.New("并发更新冲突，重试次数已用尽")
)

// 回调结果码
const (
	ResultCodeSuccess       = "SUCCESS"        // 支付成功
	ResultCodeFail          = "FAIL"           // 支付失败
	ResultCodeRefundSuccess = "REFUND_SUCCESS" // 退款到账确认
)

// PaymentStore 回调处理依赖的支付记录读写能力
// 生产实现为 repository.PaymentRepository，测试中用内存假实现
type PaymentStore interface {
	GetByOrderNo(ctx context.Context, orderNo string) (*model.PaymentRecord, error)
	CompareAndSwapStatus(ctx context.Context, id int64, expectedVersion int, newStatus string, extra map[string]interface{}) (bool, error)
}

// SettlementNotifier 支付结果下游通知（订单服务 onPaymentSettled）
type SettlementNotifier interface {
	NotifySettled(ctx context.Context, record *model.PaymentRecord, outcome string) error
}

// CallbackService 支付回调接入
//
// 【核心正确性机制】回调可能重复投递、可能乱序、可能并发到达。
// 幂等检查 + 有界 CAS 重试保证同一笔支付的状态变更恰好生效一次：
// 重复回调在幂等检查处短路为空操作；并发冲突的回调由 CAS 串行化，
// 失败方重读后要么命中幂等短路、要么作为冲突上抛给运维，绝不静默丢弃。
type CallbackService struct {
	payments PaymentStore
	notifier SettlementNotifier
	channels map[string]config.ChannelConfig
	maxRetry int
}

func NewCallbackService(payments PaymentStore, notifier SettlementNotifier, channels map[string]config.ChannelConfig, maxRetry int) *CallbackService {
	if maxRetry <= 0 {
		maxRetry = 3
	}
	return &CallbackService{
		payments: payments,
		notifier: notifier,
		channels: channels,
		maxRetry: maxRetry,
	}
}

// Ingest 处理一次支付平台回调
// 返回 nil 表示可以向平台应答成功（平台停止重发）；
// 返回错误表示应答失败，由平台按自身策略重新投递
func (s *CallbackService) Ingest(ctx context.Context, channel string, payload map[string]string) error {
	// 配置键统一小写（viper 解析 YAML map 时会小写化键名）
	chCfg, ok := s.channels[strings.ToLower(channel)]
	if !ok || !chCfg.Enabled {
		return ErrUnknownChannel
	}

	// 1. 验签，失败直接拒绝，不碰任何状态
	if !sign.Verify(payload, chCfg.MchKey) {
		log.Printf("[Callback] 验签失败: channel=%s, orderNo=%s", channel, payload["out_trade_no"])
		return ErrInvalidSignature
	}

	// 2. 解析关键字段
	orderNo := payload["out_trade_no"]
	transactionID := payload["transaction_id"]
	if transactionID == "" {
		transactionID = payload["trade_no"] // 支付宝回调的交易号字段
	}
	resultCode := payload["result_code"]
	if orderNo == "" || resultCode == "" {
		return ErrMalformedCallback
	}

	var amount int64
	if resultCode == ResultCodeSuccess {
		parsed, err := strconv.ParseInt(payload["total_fee"], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: total_fee=%q", ErrMalformedCallback, payload["total_fee"])
		}
		amount = parsed
	}

	// 3. 幂等检查 + CAS，失败则重读重试，有界次数内收敛
	for attempt := 0; attempt < s.maxRetry; attempt++ {
		record, err := s.payments.GetByOrderNo(ctx, orderNo)
		if err != nil {
			return err
		}

		done, err := s.applyOnce(ctx, record, resultCode, transactionID, amount)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		log.Printf("[Callback] CAS 冲突，准备重试: orderNo=%s, attempt=%d", orderNo, attempt+1)
	}

	log.Printf("[Callback] CAS 重试耗尽: orderNo=%s, resultCode=%s", orderNo, resultCode)
	return ErrConcurrentConflict
}

// applyOnce 对当前读到的记录做一轮幂等检查与条件写入
// 返回 (true, nil) 表示本次回调已生效或命中幂等短路；(false, nil) 表示 CAS 失败需重读
func (s *CallbackService) applyOnce(ctx context.Context, record *model.PaymentRecord, resultCode, transactionID string, amount int64) (bool, error) {
	switch resultCode {
	case ResultCodeSuccess:
		// 幂等短路：同一平台交易号的成功回调重复投递，直接应答成功
		if record.Status != model.PaymentStatusPending {
			if record.TransactionID == transactionID && transactionID != "" {
				log.Printf("[Callback] 重复成功回调，幂等短路: orderNo=%s, txnID=%s", record.OrderNo, transactionID)
				return true, nil
			}
			return false, fmt.Errorf("%w: 当前状态 %s", ErrIllegalTransition, record.Status)
		}

		// 金额守卫：回调金额与记录不一致时不流转状态，留在 PENDING 等人工核查
		if amount != record.Amount {
			log.Printf("[Callback] 回调金额不一致: orderNo=%s, 记录金额=%d, 回调金额=%d", record.OrderNo, record.Amount, amount)
			return false, ErrCallbackAmountMismatch
		}

		now := time.Now()
		ok, err := s.payments.CompareAndSwapStatus(ctx, record.ID, record.Version, model.PaymentStatusPaid, map[string]interface{}{
			"transaction_id": transactionID,
			"pay_time":       &now,
		})
		if err != nil || !ok {
			return false, err
		}

		record.Status = model.PaymentStatusPaid
		record.TransactionID = transactionID
		record.PayTime = &now
		s.notify(ctx, record, model.PaymentStatusPaid)
		log.Printf("[Callback] 支付成功: orderNo=%s, txnID=%s, amount=%d", record.OrderNo, transactionID, record.Amount)
		return true, nil

	case ResultCodeFail:
		if record.Status == model.PaymentStatusFailed {
			return true, nil
		}
		if record.Status != model.PaymentStatusPending {
			return false, fmt.Errorf("%w: 当前状态 %s", ErrIllegalTransition, record.Status)
		}

		ok, err := s.payments.CompareAndSwapStatus(ctx, record.ID, record.Version, model.PaymentStatusFailed, nil)
		if err != nil || !ok {
			return false, err
		}

		record.Status = model.PaymentStatusFailed
		s.notify(ctx, record, model.PaymentStatusFailed)
		log.Printf("[Callback] 支付失败: orderNo=%s", record.OrderNo)
		return true, nil

	case ResultCodeRefundSuccess:
		if record.Status == model.PaymentStatusRefunded {
			return true, nil
		}
		if record.Status != model.PaymentStatusRefunding {
			return false, fmt.Errorf("%w: 当前状态 %s", ErrIllegalTransition, record.Status)
		}

		ok, err := s.payments.CompareAndSwapStatus(ctx, record.ID, record.Version, model.PaymentStatusRefunded, nil)
		if err != nil || !ok {
			return false, err
		}

		record.Status = model.PaymentStatusRefunded
		s.notify(ctx, record, model.PaymentStatusRefunded)
		log.Printf("[Callback] 退款到账: orderNo=%s, refundNo=%s", record.OrderNo, record.RefundNo)
		return true, nil

	default:
		return false, fmt.Errorf("%w: result_code=%q", ErrMalformedCallback, resultCode)
	}
}

// notify 投递下游通知，失败只记日志：发件箱由后台任务兜底重试，
// 通知失败不影响向支付平台的应答
func (s *CallbackService) notify(ctx context.Context, record *model.PaymentRecord, outcome string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifySettled(ctx, record, outcome); err != nil {
		log.Printf("[Callback] 下游通知写入失败: orderNo=%s, outcome=%s, err=%v", record.OrderNo, outcome, err)
	}
}
