package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-ap-budgets/internal/platform/middleware"
	"github.com/pesio-ai/be-ap-budgets/internal/repository"
)

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	rows := []*repository.Utilization{{
		DepartmentID:       "eng",
		Total:              decimal.RequireFromString("10000"),
		Allocated:          decimal.RequireFromString("4000"),
		Remaining:          decimal.RequireFromString("6000"),
		Status:             repository.EnvelopeActive,
		PurchaseOrderCount: 2,
		CommittedAmount:    decimal.RequireFromString("4000"),
		UtilizationPercent: decimal.RequireFromString("40"),
	}}
	if err := printReport(cmd, 2026, rows); err != nil {
		t.Fatal(err)
	}

	got := out.String()
	for _, want := range []string{"DEPARTMENT", "eng", "10000.00", "6000.00", "40.00", "active", "1 budget(s) in fiscal year 2026"} {
		if !strings.Contains(got, want) {
			t.Errorf("report missing %q:\n%s", want, got)
		}
	}
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("JWT_SECRET", "ledgerctl-secret")

	var out bytes.Buffer
	cmd := tokenCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--user", "u-1", "--role", "finance", "--department", "eng"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	var claims middleware.Claims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(out.String()), &claims, func(*jwt.Token) (any, error) {
		return []byte("ledgerctl-secret"), nil
	})
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	if claims.Subject != "u-1" || claims.Role != "finance" || claims.DepartmentID != "eng" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestTokenCmdRejectsUnknownRole(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("JWT_SECRET", "ledgerctl-secret")

	cmd := tokenCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--user", "u-1", "--role", "root"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error for an unknown role")
	}
}
