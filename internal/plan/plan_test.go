package plan

import (
	"encoding/json"
	"testing"
)

func TestEmptyPlanNeverActionable(t *testing.T) {
	for action := range knownActions {
		p := &Plan{ActionType: action}
		if p.Actionable() {
			t.Fatalf("plan %s without transactions must not be actionable", action)
		}
	}
}

func TestActionableRequiresExecutableType(t *testing.T) {
	tx := TxPreview{ChainID: 1, To: "0x0000000000000000000000000000000000000001", Data: "0x", Value: "0"}

	cases := []struct {
		name string
		plan Plan
		want bool
	}{
		{name: "stake with txs", plan: Plan{ActionType: ActionStake, Txs: []TxPreview{tx}}, want: true},
		{name: "vote with legacy tx", plan: Plan{ActionType: ActionVote, LegacyTx: &tx}, want: true},
		{name: "question with tx", plan: Plan{ActionType: ActionQuestion, Txs: []TxPreview{tx}}, want: false},
		{name: "unsupported with tx", plan: Plan{ActionType: ActionUnsupported, LegacyTx: &tx}, want: false},
	}
	for _, tc := range cases {
		if got := tc.plan.Actionable(); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestWorkingTransactionsPrefersTxs(t *testing.T) {
	legacy := TxPreview{ChainID: 1, To: "0xlegacy"}
	multi := []TxPreview{{ChainID: 5, To: "0xa"}, {ChainID: 5, To: "0xb"}}

	p := Plan{ActionType: ActionBuyUShare, Txs: multi, LegacyTx: &legacy}
	got := p.WorkingTransactions()
	if len(got) != 2 || got[0].To != "0xa" {
		t.Fatalf("unexpected working list: %+v", got)
	}
	chain, ok := p.TargetChain()
	if !ok || chain != 5 {
		t.Fatalf("unexpected target chain: %d %v", chain, ok)
	}

	p.Txs = nil
	got = p.WorkingTransactions()
	if len(got) != 1 || got[0].To != "0xlegacy" {
		t.Fatalf("expected legacy fallback, got %+v", got)
	}
}

func TestDecodePlanJSON(t *testing.T) {
	payload := `{"id":"p1","actionType":"stake","interpretation":"stake 100","userMessage":"Done",
		"warnings":["check gas"],"tx":{"chainId":1,"to":"0xAbC","data":"0x1234","value":"0"}}`

	var p Plan
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if p.ActionType != ActionStake {
		t.Fatalf("unexpected action type: %s", p.ActionType)
	}
	if p.LegacyTx == nil || p.LegacyTx.Data != "0x1234" {
		t.Fatalf("legacy tx not decoded: %+v", p.LegacyTx)
	}
	if !p.Actionable() {
		t.Fatalf("expected plan to be actionable")
	}

	var odd Plan
	if err := json.Unmarshal([]byte(`{"actionType":"TELEPORT"}`), &odd); err != nil {
		t.Fatalf("decode unknown action: %v", err)
	}
	if odd.ActionType != ActionUnsupported {
		t.Fatalf("unknown action should map to UNSUPPORTED, got %s", odd.ActionType)
	}
}

func TestValueWei(t *testing.T) {
	v, err := TxPreview{Value: "1000000000000000000000"}.ValueWei()
	if err != nil || v.String() != "1000000000000000000000" {
		t.Fatalf("unexpected value: %v %v", v, err)
	}
	if v, err := (TxPreview{}).ValueWei(); err != nil || v.Sign() != 0 {
		t.Fatalf("empty value should be zero: %v %v", v, err)
	}
	if _, err := (TxPreview{Value: "-1"}).ValueWei(); err == nil {
		t.Fatalf("expected negative value to fail")
	}
}
