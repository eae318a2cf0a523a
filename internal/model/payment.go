package model

import (
	"time"
)

// ============================================================================
// 支付状态常量
// ============================================================================

const (
	PaymentStatusPending   = "PENDING"   // 待支付（创建后即为待支付，直到终态回调到达）
	PaymentStatusPaid      = "PAID"      // 支付成功
	PaymentStatusFailed    = "FAILED"    // 支付失败
	PaymentStatusRefunding = "REFUNDING" // 退款中
	PaymentStatusRefunded  = "REFUNDED"  // 已退款
)

// ValidStatusTransitions 支付状态机合法流转表
// PENDING -> PAID / FAILED
// PAID -> REFUNDING
// REFUNDING -> REFUNDED
// FAILED、REFUNDED 为终态
var ValidStatusTransitions = map[string][]string{
	PaymentStatusPending:   {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusPaid:      {PaymentStatusRefunding},
	PaymentStatusRefunding: {PaymentStatusRefunded},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsTerminalStatus 是否为终态（终态记录只接受幂等回调，不再流转）
func IsTerminalStatus(status string) bool {
	return status == PaymentStatusFailed || status == PaymentStatusRefunded
}

// ============================================================================
// 支付渠道常量
// ============================================================================

const (
	PaymentTypeWechat  = "WECHAT"  // 微信支付
	PaymentTypeAlipay  = "ALIPAY"  // 支付宝支付
	PaymentTypeBalance = "BALANCE" // 余额支付
)

func IsValidPaymentType(paymentType string) bool {
	switch paymentType {
	case PaymentTypeWechat, PaymentTypeAlipay, PaymentTypeBalance:
		return true
	}
	return false
}

// ============================================================================
// 支付记录实体
// ============================================================================

// PaymentRecord 支付记录表
// 一笔订单对应一条支付记录，记录从创建到终态的完整生命周期
//
// 【重要】并发控制原则：
// 1. 所有状态变更必须走 CAS（version 比对）路径，不存在无条件更新
// 2. version 每次成功写入严格 +1，读到旧版本的写入会被拒绝
// 3. 记录只更新状态，永不物理删除 —— 审计可追溯
type PaymentRecord struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo       string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`   // 业务订单号
	PaymentNo     string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_no"` // 支付流水号（本系统生成）
	UserID        int64      `gorm:"index;not null" json:"user_id"`                           // 用户ID
	Amount        int64      `gorm:"not null" json:"amount"`                                  // 支付金额（分）
	PaymentType   string     `gorm:"type:varchar(20);index;not null" json:"payment_type"`     // 支付渠道
	Status        string     `gorm:"type:varchar(20);index;not null" json:"status"`           // 支付状态
	TransactionID string     `gorm:"type:varchar(64);index" json:"transaction_id"`            // 支付平台交易号（成功后写入）
	PayTime       *time.Time `gorm:"index" json:"pay_time"`                                   // 支付完成时间
	RefundAmount  int64      `gorm:"not null;default:0" json:"refund_amount"`                 // 已退款金额（分）
	RefundNo      string     `gorm:"type:varchar(64)" json:"refund_no"`                       // 退款单号
	Version       int        `gorm:"not null;default:0" json:"version"`                       // 乐观锁版本号
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentRecord) TableName() string {
	return "payment_record"
}

// RemainingRefundable 剩余可退金额
func (p *PaymentRecord) RemainingRefundable() int64 {
	return p.Amount - p.RefundAmount
}
