package resolver

import "github.com/any-hub/any-install/internal/catalog"

// Decision 是单个包的选择结果。
type Decision int

const (
	DecisionOmit Decision = iota
	DecisionInstall
	DecisionAvailable
)

func (d Decision) String() string {
	switch d {
	case DecisionInstall:
		return "install"
	case DecisionAvailable:
		return "available"
	default:
		return "omit"
	}
}

// Decide 按需求等级与调用方的排除/包含决定包的去向：
// required 总是安装；recommended 默认安装、被排除时省略；
// optional 仅在被包含时安装，否则以 available 方式加入供依赖解析使用。
func Decide(tier catalog.Tier, excluded, included bool) Decision {
	switch tier {
	case catalog.TierRequired:
		return DecisionInstall
	case catalog.TierRecommended:
		if excluded && !included {
			return DecisionOmit
		}
		return DecisionInstall
	case catalog.TierOptional:
		if included {
			return DecisionInstall
		}
		return DecisionAvailable
	default:
		return DecisionOmit
	}
}
