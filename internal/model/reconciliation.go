package model

import (
	"time"
)

// ============================================================================
// 对账批次状态常量
// ============================================================================

const (
	BatchStatusPending   = "PENDING"   // 未开始
	BatchStatusRunning   = "RUNNING"   // 进行中
	BatchStatusCompleted = "COMPLETED" // 已完成
	BatchStatusFailed    = "FAILED"    // 失败（可手动重新触发）
)

// ============================================================================
// 对账记录状态常量
// ============================================================================

const (
	ReconStatusUnreconciled   = "UNRECONCILED"    // 未对账
	ReconStatusSuccess        = "SUCCESS"         // 对账成功
	ReconStatusAmountMismatch = "AMOUNT_MISMATCH" // 金额不一致
	ReconStatusPlatformOnly   = "PLATFORM_ONLY"   // 平台有本系统无（最高严重级别，通常是回调丢失）
	ReconStatusSystemOnly     = "SYSTEM_ONLY"     // 本系统有平台无（次高严重级别，通常是本地状态伪造或过期）
)

const (
	SolveStatusUnsolved = "UNSOLVED" // 未解决
	SolveStatusSolved   = "SOLVED"   // 已解决
)

// ============================================================================
// 对账批次实体
// ============================================================================

// ReconciliationBatch 对账批次表
// 一个批次对应一个（对账日期，支付渠道）组合，同一组合最多一个非 FAILED 批次
type ReconciliationBatch struct {
	ID                       int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	BatchNo                  string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"batch_no"`     // 对账批次号
	ReconciliationDate       string     `gorm:"type:varchar(10);index;not null" json:"reconciliation_date"` // 对账日期 yyyy-MM-dd
	PaymentType              string     `gorm:"type:varchar(20);index;not null" json:"payment_type"`        // 支付渠道
	SystemTransactionCount   int        `gorm:"not null;default:0" json:"system_transaction_count"`         // 系统交易笔数
	SystemTotalAmount        int64      `gorm:"not null;default:0" json:"system_total_amount"`              // 系统交易总金额（分）
	PlatformTransactionCount int        `gorm:"not null;default:0" json:"platform_transaction_count"`       // 平台交易笔数
	PlatformTotalAmount      int64      `gorm:"not null;default:0" json:"platform_total_amount"`            // 平台交易总金额（分）
	SuccessCount             int        `gorm:"not null;default:0" json:"success_count"`                    // 对账成功笔数
	FailCount                int        `gorm:"not null;default:0" json:"fail_count"`                       // 对账差异笔数
	Status                   string     `gorm:"type:varchar(20);index;not null" json:"status"`              // 批次状态
	StartTime                *time.Time `json:"start_time"`
	EndTime                  *time.Time `json:"end_time"`
	CreatedAt                time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ReconciliationBatch) TableName() string {
	return "payment_reconciliation_batch"
}

// ============================================================================
// 对账记录实体
// ============================================================================

// Reconciliation 对账记录表
// 每一笔被比对或落单的交易对应一行，除解决相关字段外写入后不再变更
type Reconciliation struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	BatchNo        string     `gorm:"type:varchar(64);index;not null" json:"batch_no"`      // 所属批次号
	OrderNo        string     `gorm:"type:varchar(64);index" json:"order_no"`               // 订单号
	PaymentNo      string     `gorm:"type:varchar(64)" json:"payment_no"`                   // 支付流水号
	TransactionID  string     `gorm:"type:varchar(64)" json:"transaction_id"`               // 支付平台交易号
	OrderAmount    int64      `gorm:"not null;default:0" json:"order_amount"`               // 订单金额（分）
	ActualAmount   int64      `gorm:"not null;default:0" json:"actual_amount"`              // 系统实收金额（分）
	PlatformAmount int64      `gorm:"not null;default:0" json:"platform_amount"`            // 平台对账金额（分）
	Status         string     `gorm:"type:varchar(20);index;not null" json:"status"`        // 对账状态
	DiffAmount     int64      `gorm:"not null;default:0" json:"diff_amount"`                // 差异金额 = 平台金额 - 系统金额（带符号）
	ErrorReason    string     `gorm:"type:varchar(256)" json:"error_reason"`                // 差异原因
	SolveStatus    string     `gorm:"type:varchar(20);index;not null;default:UNSOLVED" json:"solve_status"` // 解决状态
	Solution       string     `gorm:"type:varchar(512)" json:"solution"`                    // 解决方案
	Solver         string     `gorm:"type:varchar(64)" json:"solver"`                       // 解决人
	SolveTime      *time.Time `json:"solve_time"`                                           // 解决时间
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Reconciliation) TableName() string {
	return "payment_reconciliation"
}

// IsDiff 是否为需要处理的差异记录
func (r *Reconciliation) IsDiff() bool {
	return r.Status != ReconStatusSuccess && r.Status != ReconStatusUnreconciled
}

// ============================================================================
// 对账交易快照
// ============================================================================

// Txn 参与对账的单笔交易（系统侧来自支付记录，平台侧来自渠道对账单）
type Txn struct {
	OrderNo       string    `json:"order_no"`
	PaymentNo     string    `json:"payment_no"`
	TransactionID string    `json:"transaction_id"`
	Amount        int64     `json:"amount"`   // 金额（分）
	PayTime       time.Time `json:"pay_time"` // 交易完成时间
}
