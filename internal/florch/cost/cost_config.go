package cost

import (
	"fmt"
	"math"
)

// CostConfiguration bounds what a run may spend. An empty cost type only accounts the cost.
type CostConfiguration struct {
	CostType string     `json:"costType" yaml:"COST_TYPE"`
	Source   CostSource `json:"costSource" yaml:"COST_SOURCE"`
	Budget   float64    `json:"budget" yaml:"BUDGET"`
}

const TotalBudget_CostType = "totalBudget"

func (cc *CostConfiguration) Validate() error {
	if cc == nil {
		return nil
	}
	switch cc.CostType {
	case "":
	case TotalBudget_CostType:
		if !(cc.Budget > 0) || math.IsInf(cc.Budget, 1) {
			return fmt.Errorf("total budget must be positive, got %v", cc.Budget)
		}
	default:
		return fmt.Errorf("invalid cost type: %q", cc.CostType)
	}
	return nil
}

// IsBudgetExhausted reports whether spent reaches the configured total budget.
func (cc *CostConfiguration) IsBudgetExhausted(spent float64) bool {
	if cc == nil || cc.CostType != TotalBudget_CostType || cc.Budget <= 0 {
		return false
	}
	return spent >= cc.Budget
}
