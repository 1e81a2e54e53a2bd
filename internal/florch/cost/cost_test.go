package cost

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
	"gopkg.in/yaml.v3"
)

func testPeers() []*model.PeerSpec {
	return []*model.PeerSpec{
		{Id: 0, LinkCost: 1, EnergyCost: 0.5},
		{Id: 1, LinkCost: 2, EnergyCost: 1},
		{Id: 2, LinkCost: 4, EnergyCost: 2},
	}
}

func TestGetRoundCost(t *testing.T) {
	batchSizes := map[int]int{0: 10, 1: 10, 2: 4}

	comm, err := GetRoundCost(testPeers(), []int{0, 2}, batchSizes, 3, COMMUNICATION)
	if err != nil {
		t.Fatalf("GetRoundCost: %v", err)
	}
	if comm != 15 {
		t.Fatalf("communication cost %v, want 15", comm)
	}

	compute, err := GetRoundCost(testPeers(), []int{0, 1, 2}, batchSizes, 3, COMPUTE)
	if err != nil {
		t.Fatalf("GetRoundCost: %v", err)
	}
	if compute != 23 {
		t.Fatalf("compute cost %v, want 23", compute)
	}

	if _, err := GetRoundCost(testPeers(), []int{5}, batchSizes, 3, COMMUNICATION); err == nil {
		t.Fatal("expected error for unknown peer")
	}
}

func TestBudget(t *testing.T) {
	cc := &CostConfiguration{CostType: TotalBudget_CostType, Budget: 10}
	if cc.IsBudgetExhausted(9.9) || !cc.IsBudgetExhausted(10) {
		t.Fatal("budget boundary not respected")
	}

	tracking := &CostConfiguration{Source: COMPUTE, Budget: 10}
	if tracking.IsBudgetExhausted(100) {
		t.Fatal("cost accounting without a type has no total budget")
	}

	var unset *CostConfiguration
	if unset.IsBudgetExhausted(1e9) {
		t.Fatal("nil configuration has no budget")
	}
}

func TestCostConfigurationValidate(t *testing.T) {
	valid := []*CostConfiguration{
		nil,
		{Source: COMMUNICATION},
		{CostType: TotalBudget_CostType, Budget: 10},
	}
	for _, cc := range valid {
		if err := cc.Validate(); err != nil {
			t.Fatalf("valid configuration %+v rejected: %v", cc, err)
		}
	}

	invalid := map[string]*CostConfiguration{
		"unknown type":    {CostType: "costMin"},
		"zero budget":     {CostType: TotalBudget_CostType},
		"negative budget": {CostType: TotalBudget_CostType, Budget: -1},
		"nan budget":      {CostType: TotalBudget_CostType, Budget: math.NaN()},
		"infinite budget": {CostType: TotalBudget_CostType, Budget: math.Inf(1)},
	}
	for name, cc := range invalid {
		if err := cc.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestCostSourceEncoding(t *testing.T) {
	var fromString, fromNumber CostSource
	if err := json.Unmarshal([]byte(`"compute"`), &fromString); err != nil || fromString != COMPUTE {
		t.Fatalf("string decode: %v %v", fromString, err)
	}
	if err := json.Unmarshal([]byte(`0`), &fromNumber); err != nil || fromNumber != COMMUNICATION {
		t.Fatalf("numeric decode: %v %v", fromNumber, err)
	}
	if err := json.Unmarshal([]byte(`7`), &fromNumber); err == nil {
		t.Fatal("expected error for unknown numeric source")
	}

	out, _ := json.Marshal(COMPUTE)
	if string(out) != `"COMPUTE"` {
		t.Fatalf("json encoding %s", out)
	}

	var cc CostConfiguration
	if err := yaml.Unmarshal([]byte("COST_TYPE: totalBudget\nCOST_SOURCE: COMPUTE\nBUDGET: 12.5\n"), &cc); err != nil {
		t.Fatalf("yaml decode: %v", err)
	}
	if cc.Source != COMPUTE || cc.Budget != 12.5 || cc.CostType != TotalBudget_CostType {
		t.Fatalf("unexpected yaml config %+v", cc)
	}
}
