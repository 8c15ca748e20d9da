package population

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/fincrime-signals/internal/domain"
)

const header = "customer_id,name,residency_country,jurisdiction_risk,account_type,pep_flag,device_count,risk_score,onboarding_decision\n"

func TestRead(t *testing.T) {
	data := header +
		"c-001,Ann,France,Low,Personal,False,1,Low,Approved\n" +
		"c-002,Bob,Kenya,High,Business,True,3,High,Manual Review\n" +
		"c-003,Cid,Spain,Low,Personal,False,2,Medium,Rejected\n" +
		"c-004,Dee,France,Low,Personal,false,x,Medium,Approved\n"

	pop, err := Read(strings.NewReader(data), "inline")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	t.Run("FiltersRejected", func(t *testing.T) {
		if pop.Len() != 3 {
			t.Fatalf("expected 3 eligible customers, got %d", pop.Len())
		}
		if _, ok := pop.Lookup("c-003"); ok {
			t.Error("rejected customer should not be in the population")
		}
	})

	t.Run("Attributes", func(t *testing.T) {
		c, ok := pop.Lookup("c-002")
		if !ok {
			t.Fatal("c-002 not found")
		}
		if c.RiskTier != domain.RiskHigh {
			t.Errorf("expected High risk, got %s", c.RiskTier)
		}
		if c.AccountType != domain.AccountBusiness {
			t.Errorf("expected Business account, got %s", c.AccountType)
		}
		if !c.PEP {
			t.Error("expected PEP flag")
		}
		if c.DeviceCount != 3 {
			t.Errorf("expected 3 devices, got %d", c.DeviceCount)
		}
	})

	t.Run("UnparsableDeviceCountDefaultsToOne", func(t *testing.T) {
		c, _ := pop.Lookup("c-004")
		if c.DeviceCount != 1 {
			t.Errorf("expected device count 1, got %d", c.DeviceCount)
		}
	})

	t.Run("IsPEP", func(t *testing.T) {
		if !pop.IsPEP("c-002") {
			t.Error("c-002 should be PEP")
		}
		if pop.IsPEP("c-001") {
			t.Error("c-001 should not be PEP")
		}
		if pop.IsPEP("unknown") {
			t.Error("unknown customers are not PEP")
		}
	})

	t.Run("Countries", func(t *testing.T) {
		got := pop.Countries()
		want := []string{"France", "Kenya"}
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("countries[%d] = %q, want %q", i, got[i], want[i])
			}
		}
	})
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"Empty", ""},
		{"MissingResidency", "customer_id,risk_score,account_type,pep_flag,device_count,onboarding_decision\nc-1,Low,Personal,False,1,Approved\n"},
		{"NoneEligible", header + "c-001,Ann,France,Low,Personal,False,1,Low,Rejected\n"},
		{"HeaderOnly", header},
		{"Duplicate", header + "c-001,Ann,France,Low,Personal,False,1,Low,Approved\nc-001,Ann,France,Low,Personal,False,1,Low,Approved\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.data), "inline")
			var popErr *domain.PopulationError
			if !errors.As(err, &popErr) {
				t.Fatalf("expected PopulationError, got %v", err)
			}
		})
	}
}

func TestMissingColumnsNamed(t *testing.T) {
	_, err := Read(strings.NewReader("customer_id,risk_score\nc-1,Low\n"), "inline")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), ColResidency) {
		t.Errorf("error should name the missing column, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), string(domain.StagePopulation)) {
		t.Errorf("error should name the stage, got %q", err.Error())
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("NotFound", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "missing.csv"))
		var popErr *domain.PopulationError
		if !errors.As(err, &popErr) {
			t.Fatalf("expected PopulationError, got %v", err)
		}
		if !errors.Is(err, os.ErrNotExist) {
			t.Error("expected wrapped os.ErrNotExist")
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		path := filepath.Join(dir, "customers.csv")
		data := header + "c-001,Ann,France,Low,Personal,False,1,Low,Approved\n"
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatal(err)
		}

		first, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		second, err := Load(path)
		if err != nil {
			t.Fatalf("second Load failed: %v", err)
		}
		if first.Len() != second.Len() || *first.At(0) != *second.At(0) {
			t.Error("loading twice should give equal populations")
		}
	})
}

func TestNew(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for empty population")
	}

	pop, err := New([]domain.Customer{
		{ID: "a", ResidencyCountry: "Spain", Decision: domain.DecisionApproved},
		{ID: "b", ResidencyCountry: "", Decision: domain.DecisionApproved},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if len(pop.Countries()) != 1 {
		t.Errorf("empty residency should not enter the country universe, got %v", pop.Countries())
	}
}
