package repository

import (
	"context"
	"errors"
	"time"

	"mallpay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrBatchNotFound     = errors.New("对账批次不存在")
	ErrBatchExists       = errors.New("对账批次已存在")
	ErrDiffNotFound      = errors.New("对账差异记录不存在")
	ErrDiffAlreadySolved = errors.New("对账差异已解决，请勿重复操作")
)

type ReconciliationRepository struct {
	db *gorm.DB
}

func NewReconciliationRepository(db *gorm.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

// ============================================================
// 批次
// ============================================================

// CreateBatch 创建对账批次
// 同一（对账日期，渠道）下已有非 FAILED 批次时拒绝创建，保证按天按渠道的幂等触发
func (r *ReconciliationRepository) CreateBatch(ctx context.Context, batch *model.ReconciliationBatch) error {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ReconciliationBatch{}).
		Where("reconciliation_date = ? AND payment_type = ? AND status <> ?",
			batch.ReconciliationDate, batch.PaymentType, model.BatchStatusFailed).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrBatchExists
	}
	return r.db.WithContext(ctx).Create(batch).Error
}

func (r *ReconciliationRepository) GetBatchByNo(ctx context.Context, batchNo string) (*model.ReconciliationBatch, error) {
	var batch model.ReconciliationBatch
	err := r.db.WithContext(ctx).Where("batch_no = ?", batchNo).First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// UpdateBatchStatus 条件更新批次状态（RUNNING 批次不允许并发再次拉起）
func (r *ReconciliationRepository) UpdateBatchStatus(ctx context.Context, batchNo string, fromStatuses []string, toStatus string, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).
		Model(&model.ReconciliationBatch{}).
		Where("batch_no = ? AND status IN ?", batchNo, fromStatuses).
		Updates(updates)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SaveBatchCounters 写入批次统计字段
func (r *ReconciliationRepository) SaveBatchCounters(ctx context.Context, batch *model.ReconciliationBatch) error {
	return r.db.WithContext(ctx).
		Model(&model.ReconciliationBatch{}).
		Where("batch_no = ?", batch.BatchNo).
		Updates(map[string]interface{}{
			"system_transaction_count":   batch.SystemTransactionCount,
			"system_total_amount":        batch.SystemTotalAmount,
			"platform_transaction_count": batch.PlatformTransactionCount,
			"platform_total_amount":      batch.PlatformTotalAmount,
			"success_count":              batch.SuccessCount,
			"fail_count":                 batch.FailCount,
		}).Error
}

// ============================================================
// 对账记录
// ============================================================

// BulkInsert 批量写入对账记录
func (r *ReconciliationRepository) BulkInsert(ctx context.Context, records []*model.Reconciliation) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(records, 200).Error
}

func (r *ReconciliationRepository) CountByStatus(ctx context.Context, batchNo, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Reconciliation{}).
		Where("batch_no = ? AND status = ?", batchNo, status).
		Count(&count).Error
	return count, err
}

// ListByBatch 分页查询批次下的对账记录，status 为空时查全部
func (r *ReconciliationRepository) ListByBatch(ctx context.Context, batchNo, status string, page, pageSize int) ([]*model.Reconciliation, int64, error) {
	var records []*model.Reconciliation
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Reconciliation{}).Where("batch_no = ?", batchNo)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error

	return records, total, err
}

// GetUnresolvedDiffs 查询未解决的差异记录，最早的排在最前，供人工处理队列消费
func (r *ReconciliationRepository) GetUnresolvedDiffs(ctx context.Context, limit int) ([]*model.Reconciliation, error) {
	var records []*model.Reconciliation
	err := r.db.WithContext(ctx).
		Where("status IN ? AND solve_status = ?",
			[]string{model.ReconStatusAmountMismatch, model.ReconStatusPlatformOnly, model.ReconStatusSystemOnly},
			model.SolveStatusUnsolved).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *ReconciliationRepository) GetDiffByID(ctx context.Context, id int64) (*model.Reconciliation, error) {
	var record model.Reconciliation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDiffNotFound
		}
		return nil, err
	}
	return &record, nil
}

// SolveDiff 登记差异处理结果
// 仅 UNSOLVED 状态可解决，条件更新保证重复解决不会覆盖第一次的结论
// 解决动作只做登记，不回写支付记录 —— 补偿性的支付状态变更必须单独走状态机
func (r *ReconciliationRepository) SolveDiff(ctx context.Context, id int64, solution, solver string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&model.Reconciliation{}).
		Where("id = ? AND solve_status = ?", id, model.SolveStatusUnsolved).
		Updates(map[string]interface{}{
			"solve_status": model.SolveStatusSolved,
			"solution":     solution,
			"solver":       solver,
			"solve_time":   &now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetDiffByID(ctx, id); err != nil {
			return err
		}
		return ErrDiffAlreadySolved
	}
	return nil
}
