package repository

import (
	"context"
	"errors"
	"time"

	"mallpay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound  = errors.New("支付记录不存在")
	ErrDuplicatePayment = errors.New("订单已存在有效支付记录")
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create 创建支付记录
// 同一订单号存在非 FAILED 记录时拒绝创建（order_no 唯一索引兜底并发竞争）
func (r *PaymentRepository) Create(ctx context.Context, record *model.PaymentRecord) error {
	existing, err := r.GetByOrderNo(ctx, record.OrderNo)
	if err != nil && !errors.Is(err, ErrPaymentNotFound) {
		return err
	}
	if existing != nil && existing.Status != model.PaymentStatusFailed {
		return ErrDuplicatePayment
	}

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicatePayment
		}
		return err
	}
	return nil
}

func (r *PaymentRepository) GetByOrderNo(ctx context.Context, orderNo string) (*model.PaymentRecord, error) {
	var record model.PaymentRecord
	err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*model.PaymentRecord, error) {
	var record model.PaymentRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &record, nil
}

// CompareAndSwapStatus 带版本比对的条件状态更新
// 系统中所有支付状态变更都走这条路径，不存在无条件更新
//
// 只有当前版本等于 expectedVersion 时写入才生效：
// 写入成功则 version +1 并返回 true；版本不匹配不做任何变更并返回 false
func (r *PaymentRepository) CompareAndSwapStatus(ctx context.Context, id int64, expectedVersion int, newStatus string, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":  newStatus,
		"version": gorm.Expr("version + 1"),
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).
		Model(&model.PaymentRecord{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(updates)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListPaidByWindow 查询支付完成时间落在窗口内的记录，作为对账的系统侧数据
// 已进入退款流程的记录仍计入当日收款
func (r *PaymentRepository) ListPaidByWindow(ctx context.Context, from, to time.Time, paymentType string) ([]*model.PaymentRecord, error) {
	var records []*model.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("payment_type = ? AND status IN ? AND pay_time >= ? AND pay_time < ?",
			paymentType,
			[]string{model.PaymentStatusPaid, model.PaymentStatusRefunding, model.PaymentStatusRefunded},
			from, to).
		Order("pay_time ASC").
		Find(&records).Error
	return records, err
}
