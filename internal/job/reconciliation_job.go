package job

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"mallpay/internal/config"
	"mallpay/internal/model"
	"mallpay/internal/repository"
	"mallpay/internal/service"
)

// ReconciliationJob 自动对账任务
// 定时为每个启用的外部渠道触发前一日的对账批次并执行
// 同一（日期，渠道）的批次创建是幂等的，重复触发是空操作
type ReconciliationJob struct {
	reconService *service.ReconciliationService
	cfg          *config.Config
	stopCh       chan struct{}
	interval     time.Duration
}

func NewReconciliationJob(reconService *service.ReconciliationService, cfg *config.Config) *ReconciliationJob {
	intervalHours := cfg.Reconciliation.JobIntervalHours
	if intervalHours <= 0 {
		intervalHours = 24
	}
	return &ReconciliationJob{
		reconService: reconService,
		cfg:          cfg,
		stopCh:       make(chan struct{}),
		interval:     time.Duration(intervalHours) * time.Hour,
	}
}

func (j *ReconciliationJob) Start(ctx context.Context) {
	log.Println("[ReconciliationJob] 自动对账任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// 启动后先跑一轮，避免服务重启错过当日触发点
	j.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("[ReconciliationJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[ReconciliationJob] 任务停止")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *ReconciliationJob) Stop() {
	close(j.stopCh)
}

func (j *ReconciliationJob) runOnce(ctx context.Context) {
	date := time.Now().AddDate(0, 0, -1).Format("2006-01-02")

	for channel, chCfg := range j.cfg.Channels {
		if !chCfg.Enabled || chCfg.SettlementURL == "" {
			continue
		}
		paymentType := strings.ToUpper(channel)
		// 余额支付无外部平台，不参与平台对账
		if paymentType == model.PaymentTypeBalance {
			continue
		}

		batchNo, err := j.reconService.StartReconciliation(ctx, date, paymentType)
		if err != nil {
			if errors.Is(err, repository.ErrBatchExists) {
				log.Printf("[ReconciliationJob] 批次已存在，跳过: date=%s, channel=%s", date, channel)
				continue
			}
			log.Printf("[ReconciliationJob] 创建批次失败: date=%s, channel=%s, err=%v", date, channel, err)
			continue
		}

		if err := j.reconService.ExecuteReconciliation(ctx, batchNo); err != nil {
			log.Printf("[ReconciliationJob] 执行对账失败: batchNo=%s, err=%v", batchNo, err)
			continue
		}
		log.Printf("[ReconciliationJob] 对账批次执行完成: batchNo=%s", batchNo)
	}
}
