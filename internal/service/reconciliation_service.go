package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"mallpay/internal/config"
	"mallpay/internal/model"
	"mallpay/internal/provider"
	"mallpay/pkg/idgen"
)

var (
	ErrBatchNotExecutable = errors.New("对账批次状态不允许执行")
	ErrInvalidReconDate   = errors.New("对账日期格式错误，应为 yyyy-MM-dd")
)

const reconDateLayout = "2006-01-02"

// ReconciliationStore 对账批次与记录的存储能力
// 生产实现为 repository.ReconciliationRepository
type ReconciliationStore interface {
	CreateBatch(ctx context.Context, batch *model.ReconciliationBatch) error
	GetBatchByNo(ctx context.Context, batchNo string) (*model.ReconciliationBatch, error)
	UpdateBatchStatus(ctx context.Context, batchNo string, fromStatuses []string, toStatus string, extra map[string]interface{}) (bool, error)
	SaveBatchCounters(ctx context.Context, batch *model.ReconciliationBatch) error
	BulkInsert(ctx context.Context, records []*model.Reconciliation) error
	ListByBatch(ctx context.Context, batchNo, status string, page, pageSize int) ([]*model.Reconciliation, int64, error)
	GetUnresolvedDiffs(ctx context.Context, limit int) ([]*model.Reconciliation, error)
	SolveDiff(ctx context.Context, id int64, solution, solver string) error
}

// SystemTxnSource 对账系统侧交易数据来源（支付记录表）
type SystemTxnSource interface {
	ListPaidByWindow(ctx context.Context, from, to time.Time, paymentType string) ([]*model.PaymentRecord, error)
}

// ReconciliationService 对账编排器
// 负责批次生命周期与两侧数据拉取，比对本身交给纯函数 MatchTransactions
type ReconciliationService struct {
	store    ReconciliationStore
	payments SystemTxnSource
	provider provider.Client
	cfg      config.ReconciliationConfig
}

func NewReconciliationService(store ReconciliationStore, payments SystemTxnSource, providerClient provider.Client, cfg config.ReconciliationConfig) *ReconciliationService {
	return &ReconciliationService{
		store:    store,
		payments: payments,
		provider: providerClient,
		cfg:      cfg,
	}
}

// StartReconciliation 创建对账批次（PENDING）
// 同一（日期，渠道）已存在非 FAILED 批次时返回 ErrBatchExists —— 按天按渠道幂等触发
func (s *ReconciliationService) StartReconciliation(ctx context.Context, date, paymentType string) (string, error) {
	if _, err := time.ParseInLocation(reconDateLayout, date, time.Local); err != nil {
		return "", ErrInvalidReconDate
	}
	if !model.IsValidPaymentType(paymentType) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedPaymentType, paymentType)
	}

	batch := &model.ReconciliationBatch{
		BatchNo:            idgen.GenerateBatchNo(date, paymentType),
		ReconciliationDate: date,
		PaymentType:        paymentType,
		Status:             model.BatchStatusPending,
	}
	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return "", err
	}

	log.Printf("[Reconciliation] 对账批次创建成功: batchNo=%s, date=%s, type=%s", batch.BatchNo, date, paymentType)
	return batch.BatchNo, nil
}

// ExecuteReconciliation 执行对账
// PENDING/FAILED -> RUNNING -> COMPLETED；任何不可恢复错误 -> FAILED（保留已累计的计数，可手动重新触发）
func (s *ReconciliationService) ExecuteReconciliation(ctx context.Context, batchNo string) error {
	batch, err := s.store.GetBatchByNo(ctx, batchNo)
	if err != nil {
		return err
	}

	// 条件更新保证同一批次同一时刻只有一个执行者
	now := time.Now()
	ok, err := s.store.UpdateBatchStatus(ctx, batchNo,
		[]string{model.BatchStatusPending, model.BatchStatusFailed},
		model.BatchStatusRunning,
		map[string]interface{}{"start_time": &now})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: batchNo=%s", ErrBatchNotExecutable, batchNo)
	}

	log.Printf("[Reconciliation] 对账开始: batchNo=%s", batchNo)

	// 对账窗口：当日 00:00 起，次日 00:00 加宽限窗口止
	// 23:59 的支付可能次日才在平台侧结算，宽限窗口避免整点硬切造成的假差异
	dayStart, _ := time.ParseInLocation(reconDateLayout, batch.ReconciliationDate, time.Local)
	windowEnd := dayStart.AddDate(0, 0, 1).Add(time.Duration(s.cfg.GraceMinutes) * time.Minute)

	// 系统侧数据
	records, err := s.payments.ListPaidByWindow(ctx, dayStart, windowEnd, batch.PaymentType)
	if err != nil {
		return s.markFailed(ctx, batch, fmt.Errorf("查询系统侧交易失败: %w", err))
	}
	systemTxns := make([]model.Txn, 0, len(records))
	for _, r := range records {
		payTime := r.CreatedAt
		if r.PayTime != nil {
			payTime = *r.PayTime
		}
		systemTxns = append(systemTxns, model.Txn{
			OrderNo:       r.OrderNo,
			PaymentNo:     r.PaymentNo,
			TransactionID: r.TransactionID,
			Amount:        r.Amount,
			PayTime:       payTime,
		})
	}
	batch.SystemTransactionCount = len(systemTxns)
	batch.SystemTotalAmount = sumAmounts(systemTxns)

	// 平台侧数据：带超时和指数退避的有界重试，耗尽后批次置为 FAILED
	platformTxns, err := s.queryPlatformWithRetry(ctx, batch.PaymentType, dayStart, windowEnd)
	if err != nil {
		return s.markFailed(ctx, batch, fmt.Errorf("拉取平台侧交易失败: %w", err))
	}
	batch.PlatformTransactionCount = len(platformTxns)
	batch.PlatformTotalAmount = sumAmounts(platformTxns)

	log.Printf("[Reconciliation] 数据就绪: batchNo=%s, 系统侧=%d笔, 平台侧=%d笔",
		batchNo, len(systemTxns), len(platformTxns))

	// 比对并落库
	rows := MatchTransactions(systemTxns, platformTxns)
	for _, row := range rows {
		row.BatchNo = batchNo
	}
	if err := s.store.BulkInsert(ctx, rows); err != nil {
		return s.markFailed(ctx, batch, fmt.Errorf("写入对账记录失败: %w", err))
	}

	successCount := 0
	for _, row := range rows {
		if row.Status == model.ReconStatusSuccess {
			successCount++
		}
	}
	batch.SuccessCount = successCount
	batch.FailCount = len(rows) - successCount

	if err := s.store.SaveBatchCounters(ctx, batch); err != nil {
		return s.markFailed(ctx, batch, fmt.Errorf("更新批次统计失败: %w", err))
	}

	endTime := time.Now()
	if _, err := s.store.UpdateBatchStatus(ctx, batchNo,
		[]string{model.BatchStatusRunning},
		model.BatchStatusCompleted,
		map[string]interface{}{"end_time": &endTime}); err != nil {
		return err
	}

	log.Printf("[Reconciliation] 对账完成: batchNo=%s, 成功=%d, 差异=%d",
		batchNo, batch.SuccessCount, batch.FailCount)
	return nil
}

// queryPlatformWithRetry 拉取平台对账单，失败按指数退避重试
func (s *ReconciliationService) queryPlatformWithRetry(ctx context.Context, paymentType string, from, to time.Time) ([]model.Txn, error) {
	maxRetries := s.cfg.QueryMaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoffBase := time.Duration(s.cfg.BackoffBaseMs) * time.Millisecond
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}
	timeout := time.Duration(s.cfg.QueryTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		queryCtx, cancel := context.WithTimeout(ctx, timeout)
		txns, err := s.provider.QueryTransactions(queryCtx, paymentType, from, to)
		cancel()
		if err == nil {
			return txns, nil
		}
		// 渠道本身不支持对账属于配置性错误，重试无意义
		if errors.Is(err, provider.ErrChannelNotSupported) {
			return nil, err
		}

		lastErr = err
		backoff := backoffBase << attempt
		log.Printf("[Reconciliation] 平台对账单查询失败，%v 后重试: attempt=%d, err=%v", backoff, attempt+1, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("重试 %d 次后仍失败: %w", maxRetries, lastErr)
}

// markFailed 批次置为 FAILED，保留已累计的统计，之前已落库的对账记录不回滚
func (s *ReconciliationService) markFailed(ctx context.Context, batch *model.ReconciliationBatch, cause error) error {
	log.Printf("[Reconciliation] 对账失败: batchNo=%s, err=%v", batch.BatchNo, cause)

	if err := s.store.SaveBatchCounters(ctx, batch); err != nil {
		log.Printf("[Reconciliation] 保存失败批次统计失败: batchNo=%s, err=%v", batch.BatchNo, err)
	}
	endTime := time.Now()
	if _, err := s.store.UpdateBatchStatus(ctx, batch.BatchNo,
		[]string{model.BatchStatusRunning},
		model.BatchStatusFailed,
		map[string]interface{}{"end_time": &endTime}); err != nil {
		log.Printf("[Reconciliation] 标记批次失败状态失败: batchNo=%s, err=%v", batch.BatchNo, err)
	}
	return cause
}

// GetBatch 查询批次详情
func (s *ReconciliationService) GetBatch(ctx context.Context, batchNo string) (*model.ReconciliationBatch, error) {
	return s.store.GetBatchByNo(ctx, batchNo)
}

// ListReconciliations 分页查询批次下的对账记录
func (s *ReconciliationService) ListReconciliations(ctx context.Context, batchNo, status string, page, pageSize int) ([]*model.Reconciliation, int64, error) {
	return s.store.ListByBatch(ctx, batchNo, status, page, pageSize)
}

// GetUnresolvedDiffs 未解决差异队列，最早的排最前
func (s *ReconciliationService) GetUnresolvedDiffs(ctx context.Context, limit int) ([]*model.Reconciliation, error) {
	return s.store.GetUnresolvedDiffs(ctx, limit)
}

// SolveDiff 登记差异处理结论（仅审计动作，不回写支付记录）
func (s *ReconciliationService) SolveDiff(ctx context.Context, id int64, solution, solver string) error {
	if solution == "" || solver == "" {
		return errors.New("解决方案和解决人不能为空")
	}
	if err := s.store.SolveDiff(ctx, id, solution, solver); err != nil {
		return err
	}
	log.Printf("[Reconciliation] 差异已解决: id=%d, solver=%s", id, solver)
	return nil
}

func sumAmounts(txns []model.Txn) int64 {
	var total int64
	for _, t := range txns {
		total += t.Amount
	}
	return total
}
