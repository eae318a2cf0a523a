package handler

import (
	"context"
	"errors"
	"log"
	"strconv"

	"mallpay/internal/repository"
	"mallpay/internal/service"
	"mallpay/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	paymentService  *service.PaymentService
	callbackService *service.CallbackService
	reconService    *service.ReconciliationService
}

// NewHandler 创建处理器实例
func NewHandler(paymentService *service.PaymentService, callbackService *service.CallbackService, reconService *service.ReconciliationService) *Handler {
	return &Handler{
		paymentService:  paymentService,
		callbackService: callbackService,
		reconService:    reconService,
	}
}

// ============================================================
// 支付相关接口
// ============================================================

// CreatePayment 为订单创建支付记录
// POST /api/v1/payment/create
func (h *Handler) CreatePayment(c *gin.Context) {
	var req service.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	req.ClientIP = c.ClientIP()

	record, err := h.paymentService.CreatePayment(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicatePayment):
			response.BusinessError(c, response.CodeDuplicatePayment, err.Error())
		case errors.Is(err, service.ErrRiskBlocked):
			response.BusinessError(c, response.CodeRiskBlocked, err.Error())
		case errors.Is(err, service.ErrUnsupportedPaymentType):
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, err.Error())
		}
		return
	}

	// 客户端凭 payment_no 去渠道发起支付，渠道参数由对应渠道 SDK 生成
	response.Success(c, gin.H{
		"order_no":     record.OrderNo,
		"payment_no":   record.PaymentNo,
		"amount":       record.Amount,
		"payment_type": record.PaymentType,
		"status":       record.Status,
	})
}

// PaymentCallback 支付平台异步回调入口
// POST /api/v1/payment/callback/:channel
//
// 【关键点】应答语义决定平台的重发行为：
// 返回 success 平台停止重发；返回 fail 平台按自身策略重新投递。
// 并发冲突（CAS 重试耗尽）必须应答 fail，等平台重发时争用已消退
func (h *Handler) PaymentCallback(c *gin.Context) {
	channel := c.Param("channel")

	var payload map[string]string
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(400, gin.H{"return_code": "FAIL", "return_msg": "报文解析失败"})
		return
	}

	err := h.callbackService.Ingest(c.Request.Context(), channel, payload)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSignature):
			c.JSON(401, gin.H{"return_code": "FAIL", "return_msg": "验签失败"})
		case errors.Is(err, service.ErrMalformedCallback), errors.Is(err, service.ErrUnknownChannel):
			c.JSON(400, gin.H{"return_code": "FAIL", "return_msg": err.Error()})
		case errors.Is(err, repository.ErrPaymentNotFound):
			c.JSON(404, gin.H{"return_code": "FAIL", "return_msg": "支付记录不存在"})
		default:
			// 并发冲突、金额不一致等：应答失败触发平台重发或人工介入
			c.JSON(500, gin.H{"return_code": "FAIL", "return_msg": err.Error()})
		}
		return
	}

	c.JSON(200, gin.H{"return_code": "SUCCESS", "return_msg": "OK"})
}

// RequestRefund 发起退款申请
// POST /api/v1/payment/refund
func (h *Handler) RequestRefund(c *gin.Context) {
	var req service.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	record, err := h.paymentService.RequestRefund(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPaymentNotFound):
			response.BusinessError(c, response.CodePaymentNotFound, err.Error())
		case errors.Is(err, service.ErrRefundStatusInvalid):
			response.BusinessError(c, response.CodePaymentStatusError, err.Error())
		case errors.Is(err, service.ErrRefundExceeded):
			response.BusinessError(c, response.CodeRefundExceeded, err.Error())
		case errors.Is(err, service.ErrConcurrentConflict):
			response.BusinessError(c, response.CodeConcurrentConflict, err.Error())
		default:
			response.ServerError(c, err.Error())
		}
		return
	}

	response.Success(c, gin.H{
		"order_no":      record.OrderNo,
		"refund_no":     record.RefundNo,
		"refund_amount": record.RefundAmount,
		"status":        record.Status,
	})
}

// GetPayment 查询支付记录详情
// GET /api/v1/payment/detail?order_no=xxx
func (h *Handler) GetPayment(c *gin.Context) {
	orderNo := c.Query("order_no")
	if orderNo == "" {
		response.ParamError(c, "order_no 参数不能为空")
		return
	}

	record, err := h.paymentService.QueryPayment(c.Request.Context(), orderNo)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			response.BusinessError(c, response.CodePaymentNotFound, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, record)
}

// ============================================================
// 对账相关接口
// ============================================================

// TriggerReconciliationRequest 手动触发对账请求
type TriggerReconciliationRequest struct {
	Date        string `json:"date" binding:"required"`         // yyyy-MM-dd
	PaymentType string `json:"payment_type" binding:"required"` // WECHAT / ALIPAY
}

// TriggerReconciliation 手动触发对账批次
// POST /api/v1/reconciliation/trigger
//
// 创建批次后异步执行比对，调用方凭返回的 batch_no 轮询批次状态
func (h *Handler) TriggerReconciliation(c *gin.Context) {
	var req TriggerReconciliationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	batchNo, err := h.reconService.StartReconciliation(c.Request.Context(), req.Date, req.PaymentType)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrBatchExists):
			response.BusinessError(c, response.CodeBatchExists, err.Error())
		case errors.Is(err, service.ErrInvalidReconDate), errors.Is(err, service.ErrUnsupportedPaymentType):
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, err.Error())
		}
		return
	}

	// 比对在后台执行，不阻塞触发请求；失败可凭 FAILED 状态重新触发。
	// 请求结束会取消 c.Request.Context()，后台任务用独立 context
	go func() {
		if err := h.reconService.ExecuteReconciliation(context.Background(), batchNo); err != nil {
			log.Printf("[Reconciliation] 批次执行失败: batchNo=%s, err=%v", batchNo, err)
		}
	}()

	response.Success(c, gin.H{
		"batch_no": batchNo,
	})
}

// GetReconciliationBatch 查询对账批次详情
// GET /api/v1/reconciliation/batch/:batch_no
func (h *Handler) GetReconciliationBatch(c *gin.Context) {
	batchNo := c.Param("batch_no")

	batch, err := h.reconService.GetBatch(c.Request.Context(), batchNo)
	if err != nil {
		if errors.Is(err, repository.ErrBatchNotFound) {
			response.BusinessError(c, response.CodeBatchNotFound, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, batch)
}

// ListReconciliations 分页查询批次下的对账记录
// GET /api/v1/reconciliation/list?batch_no=xxx&status=AMOUNT_MISMATCH&page=1&page_size=20
func (h *Handler) ListReconciliations(c *gin.Context) {
	batchNo := c.Query("batch_no")
	if batchNo == "" {
		response.ParamError(c, "batch_no 参数不能为空")
		return
	}
	status := c.Query("status")

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}

	records, total, err := h.reconService.ListReconciliations(c.Request.Context(), batchNo, status, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      records,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetUnresolvedDiffs 未解决差异处理队列
// GET /api/v1/reconciliation/unresolved?limit=50
func (h *Handler) GetUnresolvedDiffs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	diffs, err := h.reconService.GetUnresolvedDiffs(c.Request.Context(), limit)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list": diffs,
	})
}

// SolveDiffRequest 差异解决请求
type SolveDiffRequest struct {
	Solution string `json:"solution" binding:"required"`
	Solver   string `json:"solver" binding:"required"`
}

// SolveDiff 登记对账差异处理结论
// POST /api/v1/reconciliation/diff/:id/solve
//
// 【关键点】解决只是审计登记，不会回写支付记录；
// 需要补单/退款等补偿动作时必须单独走支付状态机
func (h *Handler) SolveDiff(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}

	var req SolveDiffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.reconService.SolveDiff(c.Request.Context(), id, req.Solution, req.Solver); err != nil {
		switch {
		case errors.Is(err, repository.ErrDiffNotFound):
			response.BusinessError(c, response.CodeNotFound, err.Error())
		case errors.Is(err, repository.ErrDiffAlreadySolved):
			response.BusinessError(c, response.CodeDiffSolved, err.Error())
		default:
			response.ServerError(c, err.Error())
		}
		return
	}

	response.Success(c, gin.H{
		"message": "差异已登记解决",
	})
}
