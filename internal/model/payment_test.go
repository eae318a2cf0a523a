package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		allowed bool
	}{
		{"待支付到成功", PaymentStatusPending, PaymentStatusPaid, true},
		{"待支付到失败", PaymentStatusPending, PaymentStatusFailed, true},
		{"成功到退款中", PaymentStatusPaid, PaymentStatusRefunding, true},
		{"退款中到已退款", PaymentStatusRefunding, PaymentStatusRefunded, true},
		{"待支付不能直接退款", PaymentStatusPending, PaymentStatusRefunding, false},
		{"成功不能回到待支付", PaymentStatusPaid, PaymentStatusPending, false},
		{"成功不能直接已退款", PaymentStatusPaid, PaymentStatusRefunded, false},
		{"失败为终态", PaymentStatusFailed, PaymentStatusPaid, false},
		{"已退款为终态", PaymentStatusRefunded, PaymentStatusPaid, false},
		{"未知状态", "UNKNOWN", PaymentStatusPaid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransitionTo(tt.from, tt.to))
		})
	}
}

func TestIsTerminalStatus(t *testing.T) {
	assert.True(t, IsTerminalStatus(PaymentStatusFailed))
	assert.True(t, IsTerminalStatus(PaymentStatusRefunded))
	assert.False(t, IsTerminalStatus(PaymentStatusPending))
	assert.False(t, IsTerminalStatus(PaymentStatusPaid))
	assert.False(t, IsTerminalStatus(PaymentStatusRefunding))
}

func TestIsValidPaymentType(t *testing.T) {
	assert.True(t, IsValidPaymentType(PaymentTypeWechat))
	assert.True(t, IsValidPaymentType(PaymentTypeAlipay))
	assert.True(t, IsValidPaymentType(PaymentTypeBalance))
	assert.False(t, IsValidPaymentType("wechat")) // 大小写敏感
	assert.False(t, IsValidPaymentType("PAYPAL"))
	assert.False(t, IsValidPaymentType(""))
}

func TestRemainingRefundable(t *testing.T) {
	record := &PaymentRecord{Amount: 10000, RefundAmount: 3000}
	assert.Equal(t, int64(7000), record.RemainingRefundable())

	record.RefundAmount = 10000
	assert.Equal(t, int64(0), record.RemainingRefundable())
}
