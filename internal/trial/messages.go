package trial

import "fmt"

// 转化话术全部是剩余次数的纯函数，不读不写任何状态

// ConversionMessage 返回展示给匿名用户的配额提示
func ConversionMessage(remaining int) string {
	switch {
	case remaining <= 0:
		return "免费试用次数已用完，注册后可继续生成你的杂交恐龙"
	case remaining == 1:
		return "还剩最后 1 次免费生成，注册后不再受限"
	default:
		return fmt.Sprintf("还可以免费生成 %d 次", remaining)
	}
}

// UpgradeSuggestion 返回升级建议文案
func UpgradeSuggestion(remaining int) string {
	switch {
	case remaining <= 0:
		return "注册账号或在设置中填入自己的 API Key 即可解锁不限量生成"
	case remaining == 1:
		return "即将用完试用额度，建议提前注册或配置自己的 API Key"
	default:
		return "喜欢的话可以注册账号，保存你创造的每一只恐龙"
	}
}
