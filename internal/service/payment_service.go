package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"mallpay/internal/config"
	"mallpay/internal/infrastructure/lock"
	"mallpay/internal/model"
	"mallpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
)

var (
	ErrUnsupportedPaymentType = errors.New("不支持的支付方式")
	ErrRiskBlocked            = errors.New("风控拦截，支付创建被拒绝")
	ErrRefundStatusInvalid    = errors.New("当前状态不允许退款")
	ErrRefundExceeded         = errors.New("退款金额超过剩余可退金额")
)

// PaymentCreateStore 支付创建与退款依赖的存储能力
type PaymentCreateStore interface {
	PaymentStore
	Create(ctx context.Context, record *model.PaymentRecord) error
}

// PaymentService 支付记录生命周期入口
// 创建走风控 + 分布式锁防重；退款申请走 CAS 守卫的状态机流转
type PaymentService struct {
	payments    PaymentCreateStore
	risk        RiskControlService
	redisClient *redis.Client
	cfg         *config.Config
}

func NewPaymentService(payments PaymentCreateStore, risk RiskControlService, redisClient *redis.Client, cfg *config.Config) *PaymentService {
	return &PaymentService{
		payments:    payments,
		risk:        risk,
		redisClient: redisClient,
		cfg:         cfg,
	}
}

type CreatePaymentRequest struct {
	OrderNo     string `json:"order_no" binding:"required"`
	UserID      int64  `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	PaymentType string `json:"payment_type" binding:"required"`
	ClientIP    string `json:"-"`
	DeviceInfo  string `json:"device_info"`
}

// CreatePayment 为订单创建支付记录
// 风控拦截时不落任何记录；同一订单已有有效记录时返回已有记录（幂等）
func (s *PaymentService) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*model.PaymentRecord, error) {
	if !model.IsValidPaymentType(req.PaymentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPaymentType, req.PaymentType)
	}

	// 风控前置评估，拦截则不创建记录
	assessment, err := s.risk.AssessRisk(ctx, req.UserID, req.OrderNo, req.Amount, req.PaymentType, req.ClientIP, req.DeviceInfo)
	if err != nil {
		return nil, fmt.Errorf("风控评估失败: %w", err)
	}
	if assessment.ShouldBlock {
		log.Printf("[Payment] 风控拦截: orderNo=%s, userID=%d, level=%s, %s",
			req.OrderNo, req.UserID, assessment.Level, assessment.Message)
		return nil, fmt.Errorf("%w: %s", ErrRiskBlocked, assessment.Message)
	}

	// 按订单维度加锁防止并发重复创建
	if s.redisClient != nil {
		createLock := lock.NewPaymentCreateLock(s.redisClient, req.OrderNo)
		if err := createLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer createLock.Unlock(ctx)
	}

	record := &model.PaymentRecord{
		OrderNo:     req.OrderNo,
		PaymentNo:   idgen.GeneratePaymentNo(),
		UserID:      req.UserID,
		Amount:      req.Amount,
		PaymentType: req.PaymentType,
		Status:      model.PaymentStatusPending,
	}

	if err := s.payments.Create(ctx, record); err != nil {
		return nil, err
	}

	log.Printf("[Payment] 支付记录创建成功: orderNo=%s, paymentNo=%s, amount=%d, type=%s",
		record.OrderNo, record.PaymentNo, record.Amount, record.PaymentType)
	return record, nil
}

type RefundRequest struct {
	OrderNo string `json:"order_no" binding:"required"`
	Amount  int64  `json:"amount" binding:"required,gt=0"`
	Reason  string `json:"reason"`
}

// RequestRefund 发起退款申请：PAID -> REFUNDING
// 金额守卫：申请金额不得超过剩余可退金额，违反时拒绝且不改变记录
// 实际到账由渠道退款确认回调驱动 REFUNDING -> REFUNDED
func (s *PaymentService) RequestRefund(ctx context.Context, req *RefundRequest) (*model.PaymentRecord, error) {
	record, err := s.payments.GetByOrderNo(ctx, req.OrderNo)
	if err != nil {
		return nil, err
	}

	if record.Status != model.PaymentStatusPaid {
		return nil, fmt.Errorf("%w: 当前状态 %s", ErrRefundStatusInvalid, record.Status)
	}
	if req.Amount > record.RemainingRefundable() {
		return nil, fmt.Errorf("%w: 申请 %d, 可退 %d", ErrRefundExceeded, req.Amount, record.RemainingRefundable())
	}

	refundNo := idgen.GenerateRefundNo()
	ok, err := s.payments.CompareAndSwapStatus(ctx, record.ID, record.Version, model.PaymentStatusRefunding, map[string]interface{}{
		"refund_amount": record.RefundAmount + req.Amount,
		"refund_no":     refundNo,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConcurrentConflict
	}

	record.Status = model.PaymentStatusRefunding
	record.RefundAmount += req.Amount
	record.RefundNo = refundNo
	record.Version++

	log.Printf("[Payment] 退款申请受理: orderNo=%s, refundNo=%s, amount=%d, reason=%s",
		req.OrderNo, refundNo, req.Amount, req.Reason)
	return record, nil
}

// QueryPayment 查询支付记录
func (s *PaymentService) QueryPayment(ctx context.Context, orderNo string) (*model.PaymentRecord, error) {
	return s.payments.GetByOrderNo(ctx, orderNo)
}
