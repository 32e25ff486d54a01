package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/persistence/middleware"
	"github.com/aretw0/espalier/pkg/ports"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	underlyingStore := memory.NewStore()
	mw, err := middleware.NewPIIMiddleware([]string{"password", "ssn"})
	if err != nil {
		t.Fatal(err)
	}
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	outcome := &domain.Outcome{
		RunID: "pii-run",
		Outputs: map[string]any{
			"username":      "jdoe",
			"user_password": "secret123",
			"details": map[string]any{
				"address":    "123 St",
				"ssn_number": "999-99-9999",
			},
			"people": []any{map[string]any{"ssn": "111-11-1111"}},
		},
		History: []domain.HistoryEntry{{Node: "login", Outputs: map[string]any{"user_password": "secret123"}}},
	}

	if err := secureStore.Save(ctx, outcome); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if outcome.Outputs["user_password"] != "secret123" {
		t.Error("Middleware modified the caller's outcome!")
	}
	if outcome.History[0].Outputs["user_password"] != "secret123" {
		t.Error("Middleware modified the caller's history!")
	}

	stored, err := underlyingStore.Load(ctx, "pii-run")
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}
	if stored.Outputs["username"] != "jdoe" {
		t.Error("Username shouldn't be masked")
	}
	if stored.Outputs["user_password"] != middleware.Mask {
		t.Errorf("Password should be masked, got: %v", stored.Outputs["user_password"])
	}
	details := stored.Outputs["details"].(map[string]any)
	if details["ssn_number"] != middleware.Mask {
		t.Errorf("Nested SSN should be masked, got: %v", details["ssn_number"])
	}
	people := stored.Outputs["people"].([]any)
	if people[0].(map[string]any)["ssn"] != middleware.Mask {
		t.Errorf("SSN inside a list should be masked, got: %v", people[0])
	}
	if stored.History[0].Outputs["user_password"] != middleware.Mask {
		t.Errorf("History should be masked, got: %v", stored.History[0].Outputs)
	}
}

func TestPIIMiddleware_InvalidPattern(t *testing.T) {
	if _, err := middleware.NewPIIMiddleware([]string{"("}); err == nil {
		t.Error("Expected error for invalid pattern")
	}
}

func TestChain_Contract(t *testing.T) {
	pii, err := middleware.NewPIIMiddleware([]string{"password"})
	if err != nil {
		t.Fatal(err)
	}
	enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	if err != nil {
		t.Fatal(err)
	}
	ports.RunOutcomeStoreContract(t, middleware.Chain(memory.NewStore(), pii, enc))
}
