package sign

import (
	"crypto/md5"
	"fmt"
	"sort"
	"strings"
)

// ============================================================================
// 支付回调验签
// ============================================================================
//
// 微信/支付宝风格的 MD5 验签：
//   1. 取出除 sign 外的所有参数，按 key 字典序排序
//   2. 拼接成 k1=v1&k2=v2...&key=商户密钥
//   3. MD5 后转大写，与回调中的 sign 字段比对
//
// 验签失败的回调一律拒绝，不做任何状态变更，由支付平台按自身策略重试

const signField = "sign"

// Generate 生成签名
func Generate(params map[string]string, mchKey string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == signField || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(params[k])
		sb.WriteString("&")
	}
	sb.WriteString("key=")
	sb.WriteString(mchKey)

	sum := md5.Sum([]byte(sb.String()))
	return strings.ToUpper(fmt.Sprintf("%x", sum))
}

// Verify 验证签名
func Verify(params map[string]string, mchKey string) bool {
	got := params[signField]
	if got == "" {
		return false
	}
	return Generate(params, mchKey) == strings.ToUpper(got)
}
