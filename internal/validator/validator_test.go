package validator

import "testing"

func TestValidatePhone(t *testing.T) {
	valid := []string{"254712345678", "254110345678"}
	for _, phone := range valid {
		if err := ValidatePhone(phone); err != nil {
			t.Errorf("ValidatePhone(%q) = %v", phone, err)
		}
	}
	invalid := []string{"", "0712345678", "+254712345678", "25471234567", "2547123456789", "254912345678"}
	for _, phone := range invalid {
		if err := ValidatePhone(phone); err == nil {
			t.Errorf("ValidatePhone(%q) accepted", phone)
		}
	}
}

func TestValidateWalletAddress(t *testing.T) {
	if err := ValidateWalletAddress("0x52908400098527886E0F7030069857D2E4169EE7"); err != nil {
		t.Errorf("checksummed address rejected: %v", err)
	}
	invalid := []string{"", "0x123", "52908400098527886E0F7030069857D2E4169EE7", "0xZZ908400098527886E0F7030069857D2E4169EE7"}
	for _, address := range invalid {
		if err := ValidateWalletAddress(address); err == nil {
			t.Errorf("ValidateWalletAddress(%q) accepted", address)
		}
	}
}

func TestValidateGoalName(t *testing.T) {
	if err := ValidateGoalName("Emergency fund"); err != nil {
		t.Errorf("goal name rejected: %v", err)
	}
	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}
	if err := ValidateGoalName(string(long)); err == nil {
		t.Error("overlong goal name accepted")
	}
	if err := ValidateGoalName(""); err == nil {
		t.Error("empty goal name accepted")
	}
}
