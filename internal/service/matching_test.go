package service

import (
	"testing"
	"time"

	"mallpay/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func txn(orderNo string, amount int64, payTime time.Time) model.Txn {
	return model.Txn{
		OrderNo:       orderNo,
		TransactionID: "TXN-" + orderNo,
		Amount:        amount,
		PayTime:       payTime,
	}
}

func TestMatchTransactions_AllMatched(t *testing.T) {
	now := time.Now()
	system := []model.Txn{
		txn("ORD001", 10000, now),
		txn("ORD002", 25000, now),
	}
	platform := []model.Txn{
		txn("ORD002", 25000, now),
		txn("ORD001", 10000, now),
	}

	rows := MatchTransactions(system, platform)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, model.ReconStatusSuccess, row.Status)
		assert.Equal(t, int64(0), row.DiffAmount)
		assert.False(t, row.IsDiff())
	}
}

func TestMatchTransactions_AmountMismatch(t *testing.T) {
	now := time.Now()
	// 系统记了 10000，平台只结算了 9900
	system := []model.Txn{txn("ORD001", 10000, now)}
	platform := []model.Txn{txn("ORD001", 9900, now)}

	rows := MatchTransactions(system, platform)
	require.Len(t, rows, 1)
	assert.Equal(t, model.ReconStatusAmountMismatch, rows[0].Status)
	assert.Equal(t, int64(-100), rows[0].DiffAmount) // 平台 - 系统
	assert.Equal(t, int64(10000), rows[0].ActualAmount)
	assert.Equal(t, int64(9900), rows[0].PlatformAmount)
	assert.True(t, rows[0].IsDiff())
}

func TestMatchTransactions_PlatformOnly(t *testing.T) {
	now := time.Now()
	platform := []model.Txn{txn("ORD009", 5000, now)}

	rows := MatchTransactions(nil, platform)
	require.Len(t, rows, 1)
	assert.Equal(t, model.ReconStatusPlatformOnly, rows[0].Status)
	assert.Equal(t, int64(5000), rows[0].DiffAmount)
	assert.Equal(t, "ORD009", rows[0].OrderNo)
}

func TestMatchTransactions_SystemOnly(t *testing.T) {
	now := time.Now()
	system := []model.Txn{txn("ORD008", 7500, now)}

	rows := MatchTransactions(system, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, model.ReconStatusSystemOnly, rows[0].Status)
	assert.Equal(t, int64(-7500), rows[0].DiffAmount)
}

func TestMatchTransactions_BothEmpty(t *testing.T) {
	rows := MatchTransactions(nil, nil)
	assert.Empty(t, rows)
}

// 一个订单对应多笔平台交易：金额最接近的一笔被匹配，剩余落入 PLATFORM_ONLY
func TestMatchTransactions_MultiplePlatformEntries(t *testing.T) {
	now := time.Now()
	system := []model.Txn{txn("ORD001", 10000, now)}
	platform := []model.Txn{
		{OrderNo: "ORD001", TransactionID: "TXN-A", Amount: 3000, PayTime: now},
		{OrderNo: "ORD001", TransactionID: "TXN-B", Amount: 10000, PayTime: now.Add(time.Minute)},
	}

	rows := MatchTransactions(system, platform)
	require.Len(t, rows, 2)

	assert.Equal(t, model.ReconStatusSuccess, rows[0].Status)
	assert.Equal(t, "TXN-B", rows[0].TransactionID)

	assert.Equal(t, model.ReconStatusPlatformOnly, rows[1].Status)
	assert.Equal(t, "TXN-A", rows[1].TransactionID)
	assert.Equal(t, int64(3000), rows[1].DiffAmount)
}

// 金额差相同的候选取交易时间最早的一笔
func TestMatchTransactions_TieBreakByEarliestTime(t *testing.T) {
	now := time.Now()
	system := []model.Txn{txn("ORD001", 10000, now)}
	platform := []model.Txn{
		{OrderNo: "ORD001", TransactionID: "TXN-LATE", Amount: 10000, PayTime: now.Add(time.Hour)},
		{OrderNo: "ORD001", TransactionID: "TXN-EARLY", Amount: 10000, PayTime: now},
	}

	rows := MatchTransactions(system, platform)
	require.Len(t, rows, 2)
	assert.Equal(t, model.ReconStatusSuccess, rows[0].Status)
	assert.Equal(t, "TXN-EARLY", rows[0].TransactionID)
}

// 完备性：两侧每笔输入交易都恰好出现在一行输出中
func TestMatchTransactions_Completeness(t *testing.T) {
	now := time.Now()
	system := []model.Txn{
		txn("ORD001", 10000, now),
		txn("ORD002", 20000, now),
		txn("ORD003", 30000, now),
	}
	platform := []model.Txn{
		txn("ORD001", 10000, now),
		txn("ORD002", 19000, now),
		txn("ORD004", 40000, now),
		txn("ORD005", 50000, now),
	}

	rows := MatchTransactions(system, platform)
	require.Len(t, rows, 5)

	byStatus := make(map[string]int)
	for _, row := range rows {
		byStatus[row.Status]++
	}
	assert.Equal(t, 1, byStatus[model.ReconStatusSuccess])
	assert.Equal(t, 1, byStatus[model.ReconStatusAmountMismatch])
	assert.Equal(t, 1, byStatus[model.ReconStatusSystemOnly])
	assert.Equal(t, 2, byStatus[model.ReconStatusPlatformOnly])
}
