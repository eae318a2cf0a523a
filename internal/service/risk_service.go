package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"mallpay/internal/config"

	"github.com/go-redis/redis/v8"
)

// 风险等级
const (
	RiskLevelLow    = "LOW"
	RiskLevelMedium = "MEDIUM"
	RiskLevelHigh   = "HIGH"
)

// RiskAssessment 风险评估结果
type RiskAssessment struct {
	Level       string `json:"level"`
	ShouldBlock bool   `json:"should_block"`
	Message     string `json:"message"`
}

// RiskControlService 支付风控
// 创建支付记录前必须评估，ShouldBlock 为 true 时拒绝创建（不落库）
type RiskControlService interface {
	AssessRisk(ctx context.Context, userID int64, orderNo string, amount int64, paymentType, ip, deviceInfo string) (*RiskAssessment, error)
}

// RedisRiskService 基于金额阈值和 Redis 频率计数的默认风控实现
type RedisRiskService struct {
	redisClient *redis.Client
	cfg         config.RiskConfig
}

func NewRedisRiskService(redisClient *redis.Client, cfg config.RiskConfig) *RedisRiskService {
	return &RedisRiskService{
		redisClient: redisClient,
		cfg:         cfg,
	}
}

func (s *RedisRiskService) AssessRisk(ctx context.Context, userID int64, orderNo string, amount int64, paymentType, ip, deviceInfo string) (*RiskAssessment, error) {
	// 1. 频率评估：短时间内高频支付直接拦截
	minuteCount, err := s.incrAttempt(ctx, fmt.Sprintf("risk:attempt:minute:%d", userID), time.Minute)
	if err != nil {
		// 风控依赖故障时放行并告警，避免 Redis 抖动阻断全部支付
		log.Printf("[Risk] 频率计数失败，降级放行: userID=%d, err=%v", userID, err)
		return &RiskAssessment{Level: RiskLevelLow, ShouldBlock: false, Message: "风控降级"}, nil
	}
	if s.cfg.MaxAttemptsPerMinute > 0 && minuteCount > int64(s.cfg.MaxAttemptsPerMinute) {
		log.Printf("[Risk] 支付频率超限: userID=%d, 1分钟内第%d次", userID, minuteCount)
		return &RiskAssessment{Level: RiskLevelHigh, ShouldBlock: true, Message: "支付操作过于频繁，请稍后重试"}, nil
	}

	hourCount, err := s.incrAttempt(ctx, fmt.Sprintf("risk:attempt:hour:%d", userID), time.Hour)
	if err == nil && s.cfg.MaxAttemptsPerHour > 0 && hourCount > int64(s.cfg.MaxAttemptsPerHour) {
		log.Printf("[Risk] 支付频率超限: userID=%d, 1小时内第%d次", userID, hourCount)
		return &RiskAssessment{Level: RiskLevelHigh, ShouldBlock: true, Message: "今日支付次数过多，请明日再试"}, nil
	}

	// 2. 金额评估：大额只提升等级，不直接拦截
	level := RiskLevelLow
	message := "支付风险正常"
	if s.cfg.HighAmountThreshold > 0 && amount >= s.cfg.HighAmountThreshold {
		level = RiskLevelHigh
		message = "支付金额过高，请谨慎操作"
	} else if s.cfg.MediumAmountThreshold > 0 && amount >= s.cfg.MediumAmountThreshold {
		level = RiskLevelMedium
		message = "支付金额较大，建议验证支付密码"
	}

	return &RiskAssessment{Level: level, ShouldBlock: false, Message: message}, nil
}

func (s *RedisRiskService) incrAttempt(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := s.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		s.redisClient.Expire(ctx, key, window)
	}
	return count, nil
}
