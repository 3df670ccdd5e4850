package catalog

import (
	"fmt"
	"strings"
)

// Tier 是包的需求等级，决定默认是否安装。
type Tier string

const (
	TierRequired    Tier = "required"
	TierRecommended Tier = "recommended"
	TierOptional    Tier = "optional"
)

// ParseTier 解析清单中的 tier 字段，大小写不敏感。
func ParseTier(raw string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(raw))) {
	case TierRequired:
		return TierRequired, nil
	case TierRecommended:
		return TierRecommended, nil
	case TierOptional:
		return TierOptional, nil
	default:
		return "", fmt.Errorf("unknown tier %q", raw)
	}
}
