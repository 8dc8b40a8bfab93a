package routing

import (
	"fmt"

	"orchestrator-backend/pkg/types"
)

// Validation 确认检查结果
type Validation struct {
	RequiresConfirmation bool
	Reason               string
	DistanceKm           *float64
}

// Validator 判断选中的目标是否需要人工确认，只做标注，不阻止执行
type Validator struct {
	ConfirmKm float64
}

// NewValidator 创建路由校验器
func NewValidator(confirmKm float64) *Validator {
	return &Validator{ConfirmKm: confirmKm}
}

// Validate 按顺序检查：距离过远、蜂窝网络访问本地网络、跨网络且距离未知
func (v *Validator) Validate(selected *types.Node, req *types.RequestContext, distance *float64) Validation {
	result := Validation{DistanceKm: distance}

	// 距离规则对请求方自身同样生效
	if distance != nil && *distance > v.ConfirmKm {
		result.RequiresConfirmation = true
		result.Reason = fmt.Sprintf("%s is about %.0f km away from you. Proceed remotely?", selected.Name, *distance)
		return result
	}

	// 请求方自身执行不受网络规则约束
	if req.SourceNodeID != "" && selected.ID == req.SourceNodeID {
		return result
	}

	switch {
	case req.NetworkType == types.NetworkTypeCellular &&
		selected.NetworkType.IsLocal() &&
		selected.NetworkID != req.NetworkID:
		result.RequiresConfirmation = true
		result.Reason = fmt.Sprintf("You are on a cellular connection while %s is on local network %q. Proceed remotely?",
			selected.Name, selected.NetworkID)
	case selected.NetworkID != req.NetworkID && distance == nil:
		result.RequiresConfirmation = true
		result.Reason = fmt.Sprintf("%s is on a different network and its location relative to you is unknown. Proceed?",
			selected.Name)
	}

	return result
}
