package pairing

import (
	"fmt"
	"strconv"
)

// manualCodeDigits is the decimal width of the 10 data digits a manual
// pairing code carries ahead of its Verhoeff check digit: 2 digits for the
// short discriminator (0-15) and 8 for the passcode.
const manualCodeDigits = 10

// ManualCode packs discriminator's short form and passcode into the
// 11-digit manual pairing code from spec §6 ("11-digit manual code derived
// from discriminator+passcode"): 10 data digits plus a Verhoeff check
// digit, so a single mistyped digit is always detected.
func ManualCode(discriminator uint16, passcode uint32) (string, error) {
	if discriminator > MaxDiscriminator {
		return "", fmt.Errorf("manual code: discriminator %d exceeds %d bits", discriminator, DiscriminatorBits)
	}
	if passcode > MaxPasscode {
		return "", fmt.Errorf("manual code: passcode %d exceeds %d digits", passcode, PasscodeDigits)
	}
	short := ShortDiscriminator(discriminator)
	value := uint64(short)*1_00_000_000 + uint64(passcode)
	data := fmt.Sprintf("%0*d", manualCodeDigits, value)

	digits := make([]int, manualCodeDigits)
	for i, r := range data {
		digits[i] = int(r - '0')
	}
	check := verhoeffGenerate(digits)
	return data + strconv.Itoa(check), nil
}

// ParsedManualCode is a manual pairing code's decoded fields.
type ParsedManualCode struct {
	ShortDiscriminator uint8
	Passcode           uint32
}

// ParseManualCode validates code's check digit and unpacks its short
// discriminator and passcode.
func ParseManualCode(code string) (ParsedManualCode, error) {
	if len(code) != manualCodeDigits+1 {
		return ParsedManualCode{}, fmt.Errorf("manual code: want %d digits, got %d", manualCodeDigits+1, len(code))
	}
	digits := make([]int, len(code))
	for i, r := range code {
		if r < '0' || r > '9' {
			return ParsedManualCode{}, fmt.Errorf("manual code: non-digit character %q", r)
		}
		digits[i] = int(r - '0')
	}
	if !verhoeffValidate(digits) {
		return ParsedManualCode{}, fmt.Errorf("manual code: check digit mismatch")
	}

	value, err := strconv.ParseUint(code[:manualCodeDigits], 10, 64)
	if err != nil {
		return ParsedManualCode{}, fmt.Errorf("manual code: %w", err)
	}
	return ParsedManualCode{
		ShortDiscriminator: uint8(value / 1_00_000_000),
		Passcode:           uint32(value % 1_00_000_000),
	}, nil
}
