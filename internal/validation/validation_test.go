package validation

import "testing"

func TestIsValidID(t *testing.T) {
	valid := []string{
		"txn_0123456789abcdef01234567",
		"acct_aaaaaaaaaaaaaaaaaaaaaaaa",
		"ct_0123456789abcdef01234567",
	}
	for _, id := range valid {
		if !IsValidID(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}

	invalid := []string{
		"",
		"txn_short",
		"TXN_0123456789abcdef01234567",
		"txn-0123456789abcdef01234567",
		"0123456789abcdef01234567",
		"txn_0123456789ABCDEF01234567",
	}
	for _, id := range invalid {
		if IsValidID(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}

func TestIsValidEmail(t *testing.T) {
	if !IsValidEmail("dev@example.com") {
		t.Error("plain email should be valid")
	}
	if IsValidEmail("not-an-email") {
		t.Error("missing @ should be invalid")
	}
	if IsValidEmail("a@b") {
		t.Error("missing TLD should be invalid")
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello\x00world  ", 100); got != "helloworld" {
		t.Errorf("got %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("got %q", got)
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	errs := Validate(
		Required("name", ""),
		PositiveAmount("amount", 0),
		ValidID("contract_id", "bogus"),
	)
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}
	if errs.Error() == "" {
		t.Error("Error() should describe the first failure")
	}
}

func TestValidate_AllPass(t *testing.T) {
	errs := Validate(
		Required("name", "Site redesign"),
		PositiveAmount("amount", 150000),
		ValidID("contract_id", "ct_0123456789abcdef01234567"),
	)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}
