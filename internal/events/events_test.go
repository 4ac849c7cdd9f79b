package events

import (
	"encoding/json"
	"testing"
)

func TestEncodeInjectsType(t *testing.T) {
	dt := DraftToken{Round: 1, Position: 0, Token: "hi", TokenID: 42, Logprob: -0.1, Entropy: 0.5}
	data, err := Encode(dt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if m["type"] != "draft_token" {
		t.Errorf("expected type draft_token, got %v", m["type"])
	}
	if m["token_id"].(float64) != 42 {
		t.Errorf("expected token_id 42, got %v", m["token_id"])
	}
}

func TestVerifyResultOptionalFieldsOmitted(t *testing.T) {
	vr := VerifyResult{Round: 1, Position: 0, Token: "x", TokenID: 1, Status: StatusRejected}
	data, err := Encode(vr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var m map[string]interface{}
	json.Unmarshal(data, &m)
	if _, ok := m["target_logprob"]; ok {
		t.Error("expected target_logprob to be omitted when nil")
	}
	if m["status"] != "rejected" {
		t.Errorf("expected status rejected, got %v", m["status"])
	}
}

func TestAllEventTypesHaveDistinctDiscriminators(t *testing.T) {
	evs := []Event{DraftToken{}, VerifyResult{}, Metrics{}, Done{}, Error{}}
	seen := map[string]bool{}
	for _, e := range evs {
		ty := e.Type()
		if seen[ty] {
			t.Errorf("duplicate event type %q", ty)
		}
		seen[ty] = true
	}
}
