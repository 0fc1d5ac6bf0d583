// Package pairing produces the two human-facing outputs of
// open_enhanced_commissioning_window (spec §6): an 11-digit manual pairing
// code and a base38 QR pairing code, plus the passcode/discriminator/salt
// generation those codes are derived from. No pack repo models Matter's
// commissioning payload, so this package is grounded directly on spec.md
// §6's field list and constraints rather than on any example repo.
package pairing

import (
	"fmt"

	"matterctl/internal/matter/ports"
)

const (
	// DiscriminatorBits is the width of the full discriminator (spec §6:
	// "Discriminator: 12-bit random").
	DiscriminatorBits = 12
	// MaxDiscriminator is the largest value DiscriminatorBits can hold.
	MaxDiscriminator = 1<<DiscriminatorBits - 1

	// PasscodeDigits is the manual passcode's decimal width (spec §6:
	// "Passcode: 8-digit random excluding known-weak values").
	PasscodeDigits = 8
	// MaxPasscode is the largest 8-digit value.
	MaxPasscode = 99_999_999

	// SaltLen is the salt width in bytes (spec §6: "Salt: 32 random bytes").
	SaltLen = 32

	// MinIterations and MaxIterations bound the PBKDF2 iteration count
	// (spec §6: "Iterations: 1000 (valid range 1000-100000)").
	MinIterations = 1000
	MaxIterations = 100_000
	// DefaultIterations is the iteration count used unless a caller asks
	// for more.
	DefaultIterations = MinIterations
)

// weakPasscodes mirrors the passcode denylist described in spec §6 as
// "known-weak values": the all-zero code, every repeated-digit code, and
// the two straight digit runs.
var weakPasscodes = map[uint32]struct{}{
	0:        {},
	11111111: {},
	22222222: {},
	33333333: {},
	44444444: {},
	55555555: {},
	66666666: {},
	77777777: {},
	88888888: {},
	99999999: {},
	12345678: {},
	87654321: {},
}

// IsWeakPasscode reports whether passcode is on the denylist and must be
// rejected during generation.
func IsWeakPasscode(passcode uint32) bool {
	_, weak := weakPasscodes[passcode]
	return weak
}

// GeneratePasscode draws a random 8-digit passcode via crypto, rejecting
// weak values and redrawing until one survives.
func GeneratePasscode(crypto ports.Crypto) (uint32, error) {
	for {
		b, err := crypto.RandomBytes(4)
		if err != nil {
			return 0, fmt.Errorf("generate passcode: %w", err)
		}
		v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		v %= MaxPasscode + 1
		if IsWeakPasscode(v) {
			continue
		}
		return v, nil
	}
}

// GenerateDiscriminator draws a random 12-bit discriminator via crypto.
func GenerateDiscriminator(crypto ports.Crypto) (uint16, error) {
	b, err := crypto.RandomBytes(2)
	if err != nil {
		return 0, fmt.Errorf("generate discriminator: %w", err)
	}
	v := uint16(b[0]) | uint16(b[1])<<8
	return v & MaxDiscriminator, nil
}

// GenerateSalt draws SaltLen random bytes via crypto, for PBKDF2 key
// derivation ahead of the commissioning window.
func GenerateSalt(crypto ports.Crypto) ([]byte, error) {
	salt, err := crypto.RandomBytes(SaltLen)
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// ShortDiscriminator returns the 4-bit short discriminator derived from a
// full 12-bit discriminator, the same SD = (D >> 8) & 0x0F rule mdnscache
// uses when a commissionable TXT record omits SD.
func ShortDiscriminator(discriminator uint16) uint8 {
	return uint8((discriminator >> 8) & 0x0F)
}

// Credentials is the freshly generated material behind one commissioning
// window: a passcode, a discriminator, and the salt/iteration count the
// PASE exchange will use for key derivation.
type Credentials struct {
	Passcode      uint32
	Discriminator uint16
	Salt          []byte
	Iterations    int
}

// GenerateCredentials draws a full, spec-compliant set of commissioning
// window credentials.
func GenerateCredentials(crypto ports.Crypto) (Credentials, error) {
	passcode, err := GeneratePasscode(crypto)
	if err != nil {
		return Credentials{}, err
	}
	discriminator, err := GenerateDiscriminator(crypto)
	if err != nil {
		return Credentials{}, err
	}
	salt, err := GenerateSalt(crypto)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{
		Passcode:      passcode,
		Discriminator: discriminator,
		Salt:          salt,
		Iterations:    DefaultIterations,
	}, nil
}

// PairingCodes is the pair of human-facing strings
// open_enhanced_commissioning_window hands back to the caller.
type PairingCodes struct {
	ManualPairingCode string
	QRPairingCode     string
}

// Generate builds both pairing code representations for one set of
// credentials and a device's vendor/product identity.
func Generate(creds Credentials, vendorID, productID uint16) (PairingCodes, error) {
	manual, err := ManualCode(creds.Discriminator, creds.Passcode)
	if err != nil {
		return PairingCodes{}, err
	}
	qr, err := QRCode(Payload{
		VendorID:      vendorID,
		ProductID:     productID,
		Flow:          FlowStandard,
		Discovery:     DiscoveryCapabilities{OnIPNetwork: true},
		Discriminator: creds.Discriminator,
		Passcode:      creds.Passcode,
	})
	if err != nil {
		return PairingCodes{}, err
	}
	return PairingCodes{ManualPairingCode: manual, QRPairingCode: qr}, nil
}
