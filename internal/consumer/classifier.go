package consumer

import (
	"strconv"

	"github.com/01121922383osama/BackendSurvival/internal/models"
)

// 分类规则按固定优先级从上到下求值，首条命中即返回。
// Red/Yellow 关系人身安全，必须压过任何模糊的连接性信号，
// 顺序即业务规则，调整顺序就是调整报警行为。
type classifyRule struct {
	name  string
	match func(params map[string]string) bool
	color models.StatusColor
}

var motionKeys = []string{"motionStatus", "movementSigns", "someoneExists"}

var defaultRules = []classifyRule{
	{
		name:  "fall_detected",
		match: func(p map[string]string) bool { return p["fallStatus"] == "1" },
		color: models.StatusRed,
	},
	{
		name:  "resident_alert",
		match: func(p map[string]string) bool { return p["residentStatus"] == "1" },
		color: models.StatusYellow,
	},
	{
		name: "active_motion_signal",
		match: func(p map[string]string) bool {
			for _, key := range motionKeys {
				if isActiveSignal(p, key) {
					return true
				}
			}
			return false
		},
		color: models.StatusGreen,
	},
	{
		name: "connectivity_signal",
		match: func(p map[string]string) bool {
			return isActiveSignal(p, "online") || isActiveSignal(p, "heartBeat")
		},
		color: models.StatusBlue,
	},
	{
		// 明确的"已知无信号"：移动类字段存在但为 "?" 或数值 0，
		// 与完全未知（Grey）区分开
		name: "known_absent_signal",
		match: func(p map[string]string) bool {
			for _, key := range motionKeys {
				if isKnownZeroSignal(p, key) {
					return true
				}
			}
			return false
		},
		color: models.StatusBlue,
	},
}

// Classify 根据参数集推导状态颜色
// 纯函数、全函数：任何输入（包括空集）都返回且只返回一个颜色，永不出错。
func Classify(params map[string]string) models.StatusColor {
	for _, rule := range defaultRules {
		if rule.match(params) {
			return rule.color
		}
	}
	return models.StatusGrey
}

// isActiveSignal 字段存在、非 "?" 且为非零数值
// 字段不存在时永远不命中任何分支。
func isActiveSignal(params map[string]string, key string) bool {
	value, ok := params[key]
	if !ok || value == "?" {
		return false
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return false
	}
	return n != 0
}

// isKnownZeroSignal 字段存在且为 "?" 或数值 0
func isKnownZeroSignal(params map[string]string, key string) bool {
	value, ok := params[key]
	if !ok {
		return false
	}
	if value == "?" {
		return true
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return false
	}
	return n == 0
}
