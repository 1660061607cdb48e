package cardexport

import (
	"errors"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	csv := strings.Join([]string{
		"Transaction Date,Merchant,Amount,Currency,Type,Network,Last 4",
		"2025-03-10,TESCO STORES 3129,12.50,GBP,Debit,VISA,4242",
		"2025-03-11,REFUND ACME,8.00,GBP,Credit,VISA,4242",
		"not-a-date,COFFEE,3.20,GBP,Debit,VISA,4242",
		"2025-03-12,BAKERY,abc,GBP,Debit,VISA,4242",
		"2025-03-13,GROCER,£1,250.00,GBP,Debit,VISA,4242",
	}, "\n")

	upserts, rowErrs, err := Parse(strings.NewReader(csv), 7)
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}

	if len(upserts) != 3 {
		t.Fatalf("upserts = %d, want 3 (two rows skipped)", len(upserts))
	}
	if len(rowErrs) != 2 {
		t.Fatalf("row errors = %v, want 2 entries", rowErrs)
	}
	if !strings.Contains(rowErrs[0], "row 4") || !strings.Contains(rowErrs[1], "row 5") {
		t.Errorf("row errors should carry row numbers, got %v", rowErrs)
	}

	tesco := upserts[0]
	if tesco.UserID != 7 {
		t.Errorf("user id = %d, want 7", tesco.UserID)
	}
	if tesco.Amount.String() != "-12.5" {
		t.Errorf("debit amount = %s, want -12.5 (Type column forces sign)", tesco.Amount)
	}
	if tesco.NormalizedMerchant != "tesco stores" {
		t.Errorf("normalized merchant = %q, want tesco stores", tesco.NormalizedMerchant)
	}
	if !strings.HasPrefix(tesco.ExternalID, "row-") {
		t.Errorf("external id = %q, want derived row- id", tesco.ExternalID)
	}

	refund := upserts[1]
	if refund.Amount.String() != "8" {
		t.Errorf("credit amount = %s, want 8", refund.Amount)
	}

	grocer := upserts[2]
	if grocer.Amount.String() != "-1250" {
		t.Errorf("amount with symbols = %s, want -1250", grocer.Amount)
	}
}

func TestParse_DeterministicIDs(t *testing.T) {
	csv := strings.Join([]string{
		"Date,Description,Amount,Currency",
		"2025-03-10,COFFEE SHOP,-3.20,GBP",
		"2025-03-10,COFFEE SHOP,-3.20,GBP",
	}, "\n")

	first, _, err := Parse(strings.NewReader(csv), 1)
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}
	second, _, err := Parse(strings.NewReader(csv), 1)
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}

	if len(first) != 2 {
		t.Fatalf("upserts = %d, want 2", len(first))
	}
	if first[0].ExternalID == first[1].ExternalID {
		t.Errorf("identical rows should get distinct ids, both %q", first[0].ExternalID)
	}
	if first[0].ExternalID != second[0].ExternalID || first[1].ExternalID != second[1].ExternalID {
		t.Errorf("re-parsing the same file must reproduce the same ids")
	}
}

func TestParse_ReferenceColumnWins(t *testing.T) {
	csv := strings.Join([]string{
		"Date,Description,Amount,Currency,Reference",
		"2025-03-10,COFFEE SHOP,-3.20,GBP,TXN-0042",
	}, "\n")

	upserts, _, err := Parse(strings.NewReader(csv), 1)
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}
	if upserts[0].ExternalID != "TXN-0042" {
		t.Errorf("external id = %q, want TXN-0042", upserts[0].ExternalID)
	}
}

func TestParse_MissingRequiredColumn(t *testing.T) {
	csv := strings.Join([]string{
		"Date,Description,Amount",
		"2025-03-10,COFFEE SHOP,-3.20",
	}, "\n")

	_, _, err := Parse(strings.NewReader(csv), 1)
	if !errors.Is(err, ErrNoHeader) {
		t.Fatalf("Parse() error = %v, want ErrNoHeader for missing currency column", err)
	}
}

func TestParse_UKDateFormat(t *testing.T) {
	csv := strings.Join([]string{
		"Date,Description,Amount,Currency",
		"10/03/2025,COFFEE SHOP,-3.20,GBP",
	}, "\n")

	upserts, rowErrs, err := Parse(strings.NewReader(csv), 1)
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}
	if len(rowErrs) != 0 {
		t.Fatalf("row errors = %v, want none", rowErrs)
	}
	if got := upserts[0].OccurredAt.Format("2006-01-02"); got != "2025-03-10" {
		t.Errorf("occurred at = %s, want 2025-03-10 (day-first format)", got)
	}
}
