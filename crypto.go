package sevenzip

import (
	"crypto/rand"
	"crypto/sha256"
)

// AESProperties holds the parsed contents of a 7z AES256-SHA256 coder's
// property blob: cycle count, salt, and IV.
type AESProperties struct {
	NumCyclesPower byte
	Salt           []byte
	IV             []byte // always 16 bytes, zero-padded
}

// ParseAESProperties decodes a coder property blob per the 7z AES
// format: byte 0 packs salt/iv presence flags with the cycle count, byte
// 1 packs their extra-length nibbles, and the remaining bytes are salt
// followed by IV.
func ParseAESProperties(properties []byte) (*AESProperties, error) {
	if len(properties) < 2 {
		return nil, &CorruptHeaderError{Reason: "AES properties too short, need at least 2 bytes"}
	}

	first, second := properties[0], properties[1]

	numCyclesPower := first & 0x3f
	saltFlag := (first >> 7) & 1
	ivFlag := (first >> 6) & 1

	saltSizeExtra := (second >> 4) & 0x0f
	ivSizeExtra := second & 0x0f

	var saltSize, ivSize int

	if saltFlag == 1 {
		saltSize = int(1 + saltSizeExtra)
	}

	if ivFlag == 1 {
		ivSize = int(1 + ivSizeExtra)
	}

	const dataStart = 2

	saltEnd := dataStart + saltSize
	ivEnd := saltEnd + ivSize

	if len(properties) < ivEnd {
		return nil, &CorruptHeaderError{
			Reason: "AES properties truncated before declared salt/IV length",
		}
	}

	salt := append([]byte(nil), properties[dataStart:saltEnd]...)

	iv := make([]byte, 16)
	copy(iv, properties[saltEnd:ivEnd])

	return &AESProperties{NumCyclesPower: numCyclesPower, Salt: salt, IV: iv}, nil
}

// Encode serialises the properties back into a coder property blob. Salt
// is capped at 16 bytes and IV at 16 bytes, matching the format's nibble
// width.
func (p *AESProperties) Encode() []byte {
	saltSize := len(p.Salt)
	if saltSize > 16 {
		saltSize = 16
	}

	ivSize := len(p.IV)
	if ivSize > 16 {
		ivSize = 16
	}

	var saltFlag, ivFlag byte

	var saltSizeExtra, ivSizeExtra byte

	if saltSize > 0 {
		saltFlag = 1
		saltSizeExtra = byte(saltSize - 1)
	}

	if ivSize > 0 {
		ivFlag = 1
		ivSizeExtra = byte(ivSize - 1)
	}

	first := (saltFlag << 7) | (ivFlag << 6) | (p.NumCyclesPower & 0x3f)
	second := (saltSizeExtra << 4) | ivSizeExtra

	out := make([]byte, 0, 2+saltSize+ivSize)
	out = append(out, first, second)
	out = append(out, p.Salt[:saltSize]...)
	out = append(out, p.IV[:ivSize]...)

	return out
}

// NonceSource generates the salt and IV used when encrypting a new
// folder.
type NonceSource interface {
	// NumCyclesPower returns the key-derivation iteration count
	// (iterations = 2^power).
	NumCyclesPower() byte

	// Generate returns a fresh (salt, iv) pair. iv is always 16 bytes.
	Generate() (salt []byte, iv [16]byte, err error)
}

// RandomNonceSource draws salt and IV from [crypto/rand]. This is the
// default and the only policy suitable for archives anyone other than
// the writer will rely on for confidentiality.
type RandomNonceSource struct {
	cyclesPower byte
	saltSize    int
}

// NewRandomNonceSource returns a policy performing 2^cyclesPower key
// derivation rounds with a saltSize-byte (max 16) random salt. 19 cycles
// and an 8-byte salt match the 7-Zip reference defaults.
func NewRandomNonceSource(cyclesPower byte, saltSize int) *RandomNonceSource {
	if saltSize > 16 {
		saltSize = 16
	}

	return &RandomNonceSource{cyclesPower: cyclesPower, saltSize: saltSize}
}

// DefaultNonceSource returns the 7-Zip reference defaults: 2^19 cycles,
// an 8-byte salt.
func DefaultNonceSource() *RandomNonceSource { return NewRandomNonceSource(19, 8) }

func (s *RandomNonceSource) NumCyclesPower() byte { return s.cyclesPower }

func (s *RandomNonceSource) Generate() ([]byte, [16]byte, error) {
	salt := make([]byte, s.saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, [16]byte{}, err //nolint:wrapcheck
	}

	var iv [16]byte
	if _, err := rand.Read(iv[:]); err != nil {
		return nil, [16]byte{}, err //nolint:wrapcheck
	}

	return salt, iv, nil
}

// DeterministicNonceSource derives salt and IV from a fixed seed via
// SHA-256, producing identical output on every call — useful for
// reproducible test fixtures, never for anything that needs
// confidentiality.
type DeterministicNonceSource struct {
	cyclesPower byte
	seed        [32]byte
}

// NewDeterministicNonceSource returns a policy deriving salt/IV from
// seed.
func NewDeterministicNonceSource(cyclesPower byte, seed [32]byte) *DeterministicNonceSource {
	return &DeterministicNonceSource{cyclesPower: cyclesPower, seed: seed}
}

func (s *DeterministicNonceSource) NumCyclesPower() byte { return s.cyclesPower }

func (s *DeterministicNonceSource) Generate() ([]byte, [16]byte, error) {
	saltHash := sha256.Sum256(append(append([]byte(nil), s.seed[:]...), "salt"...))
	ivHash := sha256.Sum256(append(append([]byte(nil), s.seed[:]...), "iv"...))

	var iv [16]byte
	copy(iv[:], ivHash[:16])

	return append([]byte(nil), saltHash[:8]...), iv, nil
}

// ExplicitNonceSource always returns a caller-supplied salt and IV.
type ExplicitNonceSource struct {
	cyclesPower byte
	salt        []byte
	iv          [16]byte
}

// NewExplicitNonceSource returns a policy that always yields salt and iv
// verbatim (iv truncated/zero-padded to 16 bytes).
func NewExplicitNonceSource(cyclesPower byte, salt, iv []byte) *ExplicitNonceSource {
	var ivArr [16]byte

	n := len(iv)
	if n > 16 {
		n = 16
	}

	copy(ivArr[:], iv[:n])

	return &ExplicitNonceSource{cyclesPower: cyclesPower, salt: salt, iv: ivArr}
}

func (s *ExplicitNonceSource) NumCyclesPower() byte { return s.cyclesPower }

func (s *ExplicitNonceSource) Generate() ([]byte, [16]byte, error) {
	return append([]byte(nil), s.salt...), s.iv, nil
}
