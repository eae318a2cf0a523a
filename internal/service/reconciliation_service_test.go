package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"mallpay/internal/config"
	"mallpay/internal/model"
	"mallpay/internal/provider"
	"mallpay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReconStore 内存版对账存储
type fakeReconStore struct {
	batches map[string]*model.ReconciliationBatch
	rows    []*model.Reconciliation
	nextID  int64

	bulkInsertErr error
}

func newFakeReconStore() *fakeReconStore {
	return &fakeReconStore{batches: make(map[string]*model.ReconciliationBatch)}
}

func (s *fakeReconStore) CreateBatch(ctx context.Context, batch *model.ReconciliationBatch) error {
	for _, b := range s.batches {
		if b.ReconciliationDate == batch.ReconciliationDate &&
			b.PaymentType == batch.PaymentType &&
			b.Status != model.BatchStatusFailed {
			return repository.ErrBatchExists
		}
	}
	copied := *batch
	s.batches[batch.BatchNo] = &copied
	return nil
}

func (s *fakeReconStore) GetBatchByNo(ctx context.Context, batchNo string) (*model.ReconciliationBatch, error) {
	b, ok := s.batches[batchNo]
	if !ok {
		return nil, repository.ErrBatchNotFound
	}
	copied := *b
	return &copied, nil
}

func (s *fakeReconStore) UpdateBatchStatus(ctx context.Context, batchNo string, fromStatuses []string, toStatus string, extra map[string]interface{}) (bool, error) {
	b, ok := s.batches[batchNo]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, from := range fromStatuses {
		if b.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	b.Status = toStatus
	if st, ok := extra["start_time"].(*time.Time); ok {
		b.StartTime = st
	}
	if et, ok := extra["end_time"].(*time.Time); ok {
		b.EndTime = et
	}
	return true, nil
}

func (s *fakeReconStore) SaveBatchCounters(ctx context.Context, batch *model.ReconciliationBatch) error {
	b, ok := s.batches[batch.BatchNo]
	if !ok {
		return repository.ErrBatchNotFound
	}
	b.SystemTransactionCount = batch.SystemTransactionCount
	b.SystemTotalAmount = batch.SystemTotalAmount
	b.PlatformTransactionCount = batch.PlatformTransactionCount
	b.PlatformTotalAmount = batch.PlatformTotalAmount
	b.SuccessCount = batch.SuccessCount
	b.FailCount = batch.FailCount
	return nil
}

func (s *fakeReconStore) BulkInsert(ctx context.Context, records []*model.Reconciliation) error {
	if s.bulkInsertErr != nil {
		return s.bulkInsertErr
	}
	for _, r := range records {
		s.nextID++
		r.ID = s.nextID
		if r.SolveStatus == "" {
			r.SolveStatus = model.SolveStatusUnsolved
		}
		s.rows = append(s.rows, r)
	}
	return nil
}

func (s *fakeReconStore) ListByBatch(ctx context.Context, batchNo, status string, page, pageSize int) ([]*model.Reconciliation, int64, error) {
	var matched []*model.Reconciliation
	for _, r := range s.rows {
		if r.BatchNo != batchNo {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		matched = append(matched, r)
	}
	return matched, int64(len(matched)), nil
}

func (s *fakeReconStore) GetUnresolvedDiffs(ctx context.Context, limit int) ([]*model.Reconciliation, error) {
	var diffs []*model.Reconciliation
	for _, r := range s.rows {
		if r.IsDiff() && r.SolveStatus == model.SolveStatusUnsolved {
			diffs = append(diffs, r)
		}
		if len(diffs) >= limit {
			break
		}
	}
	return diffs, nil
}

func (s *fakeReconStore) SolveDiff(ctx context.Context, id int64, solution, solver string) error {
	for _, r := range s.rows {
		if r.ID != id {
			continue
		}
		if r.SolveStatus == model.SolveStatusSolved {
			return repository.ErrDiffAlreadySolved
		}
		now := time.Now()
		r.SolveStatus = model.SolveStatusSolved
		r.Solution = solution
		r.Solver = solver
		r.SolveTime = &now
		return nil
	}
	return repository.ErrDiffNotFound
}

// fakeTxnSource 系统侧交易来源假实现
type fakeTxnSource struct {
	records []*model.PaymentRecord
	err     error
}

func (f *fakeTxnSource) ListPaidByWindow(ctx context.Context, from, to time.Time, paymentType string) ([]*model.PaymentRecord, error) {
	return f.records, f.err
}

// fakeProviderClient 平台对账单客户端假实现
type fakeProviderClient struct {
	txns  []model.Txn
	err   error
	calls int

	// failures 前 N 次调用返回 err，之后成功
	failures int
}

func (f *fakeProviderClient) QueryTransactions(ctx context.Context, channel string, from, to time.Time) ([]model.Txn, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, f.err
	}
	return f.txns, nil
}

func fastReconConfig() config.ReconciliationConfig {
	return config.ReconciliationConfig{
		GraceMinutes:    30,
		QueryTimeoutSec: 1,
		QueryMaxRetries: 2,
		BackoffBaseMs:   1,
	}
}

func paidSystemRecord(orderNo string, amount int64, payTime time.Time) *model.PaymentRecord {
	return &model.PaymentRecord{
		OrderNo:       orderNo,
		PaymentNo:     "PMT-" + orderNo,
		TransactionID: "TXN-" + orderNo,
		Amount:        amount,
		PaymentType:   model.PaymentTypeWechat,
		Status:        model.PaymentStatusPaid,
		PayTime:       &payTime,
	}
}

func TestStartReconciliation_CreatesBatch(t *testing.T) {
	store := newFakeReconStore()
	svc := NewReconciliationService(store, &fakeTxnSource{}, &fakeProviderClient{}, fastReconConfig())

	batchNo, err := svc.StartReconciliation(context.Background(), "2026-08-31", model.PaymentTypeWechat)
	require.NoError(t, err)
	assert.Contains(t, batchNo, "RCB20260831WECHAT")

	batch, err := svc.GetBatch(context.Background(), batchNo)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusPending, batch.Status)
}

func TestStartReconciliation_InvalidInput(t *testing.T) {
	svc := NewReconciliationService(newFakeReconStore(), &fakeTxnSource{}, &fakeProviderClient{}, fastReconConfig())

	_, err := svc.StartReconciliation(context.Background(), "08/31/2026", model.PaymentTypeWechat)
	assert.ErrorIs(t, err, ErrInvalidReconDate)

	_, err = svc.StartReconciliation(context.Background(), "2026-08-31", "PAYPAL")
	assert.ErrorIs(t, err, ErrUnsupportedPaymentType)
}

// 同一（日期，渠道）重复触发：幂等拒绝
func TestStartReconciliation_DuplicateBatch(t *testing.T) {
	svc := NewReconciliationService(newFakeReconStore(), &fakeTxnSource{}, &fakeProviderClient{}, fastReconConfig())

	_, err := svc.StartReconciliation(context.Background(), "2026-08-31", model.PaymentTypeWechat)
	require.NoError(t, err)

	_, err = svc.StartReconciliation(context.Background(), "2026-08-31", model.PaymentTypeWechat)
	assert.ErrorIs(t, err, repository.ErrBatchExists)
}

func TestExecuteReconciliation_Completes(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.Local)
	store := newFakeReconStore()
	payments := &fakeTxnSource{records: []*model.PaymentRecord{
		paidSystemRecord("ORD001", 10000, now),
		paidSystemRecord("ORD002", 20000, now),
		paidSystemRecord("ORD003", 30000, now), // 平台侧缺失
	}}
	providerClient := &fakeProviderClient{txns: []model.Txn{
		{OrderNo: "ORD001", TransactionID: "TXN-ORD001", Amount: 10000, PayTime: now},
		{OrderNo: "ORD002", TransactionID: "TXN-ORD002", Amount: 19000, PayTime: now}, // 金额不一致
		{OrderNo: "ORD999", TransactionID: "TXN-ORD999", Amount: 5000, PayTime: now},  // 系统侧缺失
	}}
	svc := NewReconciliationService(store, payments, providerClient, fastReconConfig())

	batchNo, err := svc.StartReconciliation(context.Background(), "2026-08-31", model.PaymentTypeWechat)
	require.NoError(t, err)
	require.NoError(t, svc.ExecuteReconciliation(context.Background(), batchNo))

	batch, err := svc.GetBatch(context.Background(), batchNo)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 3, batch.SystemTransactionCount)
	assert.Equal(t, int64(60000), batch.SystemTotalAmount)
	assert.Equal(t, 3, batch.PlatformTransactionCount)
	assert.Equal(t, int64(34000), batch.PlatformTotalAmount)
	assert.Equal(t, 1, batch.SuccessCount)
	assert.Equal(t, 3, batch.FailCount)
	assert.NotNil(t, batch.StartTime)
	assert.NotNil(t, batch.EndTime)

	// 记录完备性：成功 + 差异 = 总行数
	rows, total, err := svc.ListReconciliations(context.Background(), batchNo, "", 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Equal(t, batch.SuccessCount+batch.FailCount, len(rows))
	for _, row := range rows {
		assert.Equal(t, batchNo, row.BatchNo)
	}
}

// 平台查询瞬时失败：退避重试后成功
func TestExecuteReconciliation_RetryThenSucceed(t *testing.T) {
	store := newFakeReconStore()
	providerClient := &fakeProviderClient{
		err:      errors.New("连接超时"),
		failures: 1,
	}
	svc := NewReconciliationService(store, &fakeTxnSource{}, providerClient, fastReconConfig())

	batchNo, err := svc.StartReconciliation(context.Background(), "2026-08-31", model.PaymentTypeWechat)
	require.NoError(t, err)
	require.NoError(t, svc.ExecuteReconciliation(context.Background(), batchNo))

	assert.Equal(t, 2, providerClient.calls)
	batch, _ := svc.GetBatch(context.Background(), batchNo)
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
}

// 平台查询重试耗尽：批次置为 FAILED，保留系统侧统计
func TestExecuteReconciliation_RetryExhaustedMarksFailed(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.Local)
	store := newFakeReconStore()
	payments := &fakeTxnSource{records: []*model.PaymentRecord{
		paidSystemRecord("ORD001", 10000, now),
	}}
	providerClient := &fakeProviderClient{
		err:      errors.New("网关不可用"),
		failures: 100,
	}
	svc := NewReconciliationService(store, payments, providerClient, fastReconConfig())

	batchNo, err := svc.StartReconciliation(context.Background(), "2026-08-31", model.PaymentTypeWechat)
	require.NoError(t, err)

	err = svc.ExecuteReconciliation(context.Background(), batchNo)
	require.Error(t, err)
	assert.Equal(t, 2, providerClient.calls)

	batch, _ := svc.GetBatch(context.Background(), batchNo)
	assert.Equal(t, model.BatchStatusFailed, batch.Status)
	assert.Equal(t, 1, batch.SystemTransactionCount)
	assert.Equal(t, int64(10000), batch.SystemTotalAmount)
}

// 渠道不支持对账属于配置性错误，不做无意义重试
func TestExecuteReconciliation_ChannelNotSupportedNoRetry(t *testing.T) {
	store := newFakeReconStore()
	providerClient := &fakeProviderClient{
		err:      provider.ErrChannelNotSupported,
		failures: 100,
	}
	svc := NewReconciliationService(store, &fakeTxnSource{}, providerClient, fastReconConfig())

	batchNo, err := svc.StartReconciliation(context.Background(), "2026-08-31", model.PaymentTypeWechat)
	require.NoError(t, err)

	err = svc.ExecuteReconciliation(context.Background(), batchNo)
	assert.ErrorIs(t, err, provider.ErrChannelNotSupported)
	assert.Equal(t, 1, providerClient.calls)
}

// COMPLETED 批次不可重复执行；FAILED 批次可以重新触发
func TestExecuteReconciliation_StatusGuard(t *testing.T) {
	store := newFakeReconStore()
	providerClient := &fakeProviderClient{}
	svc := NewReconciliationService(store, &fakeTxnSource{}, providerClient, fastReconConfig())

	batchNo, err := svc.StartReconciliation(context.Background(), "2026-08-31", model.PaymentTypeWechat)
	require.NoError(t, err)
	require.NoError(t, svc.ExecuteReconciliation(context.Background(), batchNo))

	err = svc.ExecuteReconciliation(context.Background(), batchNo)
	assert.ErrorIs(t, err, ErrBatchNotExecutable)
}

func TestExecuteReconciliation_FailedBatchCanRerun(t *testing.T) {
	store := newFakeReconStore()
	providerClient := &fakeProviderClient{
		err:      errors.New("网关不可用"),
		failures: 2, // 首轮两次查询全失败，重跑时恢复
	}
	svc := NewReconciliationService(store, &fakeTxnSource{}, providerClient, fastReconConfig())

	batchNo, err := svc.StartReconciliation(context.Background(), "2026-08-31", model.PaymentTypeWechat)
	require.NoError(t, err)

	require.Error(t, svc.ExecuteReconciliation(context.Background(), batchNo))
	batch, _ := svc.GetBatch(context.Background(), batchNo)
	require.Equal(t, model.BatchStatusFailed, batch.Status)

	require.NoError(t, svc.ExecuteReconciliation(context.Background(), batchNo))
	batch, _ = svc.GetBatch(context.Background(), batchNo)
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
}

func TestSolveDiff_Lifecycle(t *testing.T) {
	store := newFakeReconStore()
	require.NoError(t, store.BulkInsert(context.Background(), []*model.Reconciliation{
		{BatchNo: "RCB1", OrderNo: "ORD001", Status: model.ReconStatusAmountMismatch, DiffAmount: -100},
	}))
	svc := NewReconciliationService(store, &fakeTxnSource{}, &fakeProviderClient{}, fastReconConfig())

	diffs, err := svc.GetUnresolvedDiffs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	diffID := diffs[0].ID

	// 空解决方案或空解决人拒绝
	assert.Error(t, svc.SolveDiff(context.Background(), diffID, "", "ops"))
	assert.Error(t, svc.SolveDiff(context.Background(), diffID, "人工核实平台少收100分，已补单", ""))

	require.NoError(t, svc.SolveDiff(context.Background(), diffID, "人工核实平台少收100分，已补单", "ops"))

	// 已解决的差异不可重复解决，也不再出现在未解决队列
	err = svc.SolveDiff(context.Background(), diffID, "重复操作", "ops2")
	assert.ErrorIs(t, err, repository.ErrDiffAlreadySolved)

	diffs, err = svc.GetUnresolvedDiffs(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, diffs)

	err = svc.SolveDiff(context.Background(), 99999, "不存在", "ops")
	assert.ErrorIs(t, err, repository.ErrDiffNotFound)
}
