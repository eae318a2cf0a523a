package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mallpay/internal/config"
	"mallpay/internal/model"
)

var (
	ErrChannelNotSupported = errors.New("渠道不支持平台对账")
	ErrProviderQueryFailed = errors.New("平台对账单查询失败")
)

// Client 支付平台对账单查询客户端
// 对账编排器通过它拉取平台侧交易数据，协议细节被隔离在本包内
type Client interface {
	// QueryTransactions 查询渠道在 [from, to) 窗口内的结算交易
	QueryTransactions(ctx context.Context, channel string, from, to time.Time) ([]model.Txn, error)
}

// HTTPClient 基于渠道结算查询接口的实现
// 每次调用带显式超时；重试和退避由上层编排器控制
type HTTPClient struct {
	channels map[string]config.ChannelConfig
	client   *http.Client
}

func NewHTTPClient(channels map[string]config.ChannelConfig, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		channels: channels,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// settlementResponse 渠道结算查询接口返回结构
type settlementResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    []struct {
		OrderNo       string `json:"order_no"`
		TransactionID string `json:"transaction_id"`
		Amount        int64  `json:"amount"`
		PayTime       string `json:"pay_time"`
	} `json:"data"`
}

func (c *HTTPClient) QueryTransactions(ctx context.Context, channel string, from, to time.Time) ([]model.Txn, error) {
	// 配置键统一小写（viper 解析 YAML map 时会小写化键名）
	chCfg, ok := c.channels[strings.ToLower(channel)]
	if !ok || !chCfg.Enabled || chCfg.SettlementURL == "" {
		return nil, ErrChannelNotSupported
	}

	query := url.Values{}
	query.Set("begin_time", from.Format(time.RFC3339))
	query.Set("end_time", to.Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, chCfg.SettlementURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderQueryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: 状态码 %d", ErrProviderQueryFailed, resp.StatusCode)
	}

	var body settlementResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: 响应解析失败: %v", ErrProviderQueryFailed, err)
	}
	if body.Code != 0 {
		return nil, fmt.Errorf("%w: %s", ErrProviderQueryFailed, body.Message)
	}

	txns := make([]model.Txn, 0, len(body.Data))
	for _, item := range body.Data {
		payTime, err := time.Parse(time.RFC3339, item.PayTime)
		if err != nil {
			return nil, fmt.Errorf("%w: 交易时间解析失败: %v", ErrProviderQueryFailed, err)
		}
		txns = append(txns, model.Txn{
			OrderNo:       item.OrderNo,
			TransactionID: item.TransactionID,
			Amount:        item.Amount,
			PayTime:       payTime,
		})
	}
	return txns, nil
}
