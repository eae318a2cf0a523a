package service

import (
	"sort"

	"mallpay/internal/model"
)

// ============================================================================
// 对账匹配引擎
// ============================================================================
//
// 纯内存计算，不做任何 I/O：两侧交易列表由编排器物化好后传入，
// 因此可以用内存夹具直接做单元测试，不需要 mock 数据库或 HTTP。
//
// 匹配规则：
//   1. 以 orderNo 为主关联键建立索引（系统侧一单一record，平台侧一单可能多笔，
//      例如收款 + 部分退款各为一笔）
//   2. 两侧都存在：金额按分精确比对，相等 -> SUCCESS，不等 -> AMOUNT_MISMATCH，
//      差异金额 = 平台金额 - 系统金额（带符号）
//   3. 仅平台存在 -> PLATFORM_ONLY（平台收了钱本系统无记录，通常是回调丢失）
//   4. 仅系统存在 -> SYSTEM_ONLY（本系统认为已支付但平台无记录）
//   5. 一个 orderNo 对应多笔平台交易时，按金额最接近优先、时间最早次之贪心匹配，
//      剩余的平台交易落入 PLATFORM_ONLY
//
// 完备性：两侧每一笔输入交易都恰好出现在一行输出中

// MatchTransactions 比对系统侧与平台侧交易，产出分类后的对账记录
func MatchTransactions(systemTxns, platformTxns []model.Txn) []*model.Reconciliation {
	platformByOrder := make(map[string][]model.Txn, len(platformTxns))
	for _, txn := range platformTxns {
		platformByOrder[txn.OrderNo] = append(platformByOrder[txn.OrderNo], txn)
	}

	results := make([]*model.Reconciliation, 0, len(systemTxns)+len(platformTxns))

	for _, sys := range systemTxns {
		candidates := platformByOrder[sys.OrderNo]
		if len(candidates) == 0 {
			results = append(results, &model.Reconciliation{
				OrderNo:       sys.OrderNo,
				PaymentNo:     sys.PaymentNo,
				TransactionID: sys.TransactionID,
				OrderAmount:   sys.Amount,
				ActualAmount:  sys.Amount,
				Status:        model.ReconStatusSystemOnly,
				DiffAmount:    -sys.Amount,
				ErrorReason:   "本系统有平台无",
			})
			continue
		}

		best := pickBestMatch(sys, candidates)
		plat := candidates[best]
		platformByOrder[sys.OrderNo] = append(candidates[:best], candidates[best+1:]...)

		row := &model.Reconciliation{
			OrderNo:        sys.OrderNo,
			PaymentNo:      sys.PaymentNo,
			TransactionID:  plat.TransactionID,
			OrderAmount:    sys.Amount,
			ActualAmount:   sys.Amount,
			PlatformAmount: plat.Amount,
		}
		if sys.Amount == plat.Amount {
			row.Status = model.ReconStatusSuccess
		} else {
			row.Status = model.ReconStatusAmountMismatch
			row.DiffAmount = plat.Amount - sys.Amount
			row.ErrorReason = "金额不一致"
		}
		results = append(results, row)
	}

	// 剩余的平台交易：平台有本系统无
	orphanOrders := make([]string, 0, len(platformByOrder))
	for orderNo, remaining := range platformByOrder {
		if len(remaining) > 0 {
			orphanOrders = append(orphanOrders, orderNo)
		}
	}
	sort.Strings(orphanOrders)

	for _, orderNo := range orphanOrders {
		for _, plat := range platformByOrder[orderNo] {
			results = append(results, &model.Reconciliation{
				OrderNo:        plat.OrderNo,
				TransactionID:  plat.TransactionID,
				PlatformAmount: plat.Amount,
				Status:         model.ReconStatusPlatformOnly,
				DiffAmount:     plat.Amount,
				ErrorReason:    "平台有本系统无",
			})
		}
	}

	return results
}

// pickBestMatch 在同一订单的多笔平台交易中选择最佳匹配：
// 金额差绝对值最小优先，相同时取交易时间最早的一笔
func pickBestMatch(sys model.Txn, candidates []model.Txn) int {
	best := 0
	for i := 1; i < len(candidates); i++ {
		di := absDiff(candidates[i].Amount, sys.Amount)
		db := absDiff(candidates[best].Amount, sys.Amount)
		if di < db || (di == db && candidates[i].PayTime.Before(candidates[best].PayTime)) {
			best = i
		}
	}
	return best
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
