package attest

import (
	"fmt"
	"strings"
)

// Algorithm selects which signature scheme an Identity uses. It is the
// type configuration files and wire payloads name a signing scheme by.
type Algorithm int

const (
	invalidAlgorithm Algorithm = iota
	Ed25519Algorithm
	MLDSAAlgorithm
)

func (a Algorithm) NewAttest() (Attester, error) {
	switch a {
	case Ed25519Algorithm:
		return NewEd25519()
	case MLDSAAlgorithm:
		return NewMLDSA()
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, a)
	}
}

// Verify checks sig over msg using pub, rejecting the pair if pub's
// concrete type doesn't match a's scheme.
func (a Algorithm) Verify(pub PublicKey, msg, sig []byte) bool {
	switch a {
	case Ed25519Algorithm:
		if _, ok := pub.(*ed25519PublicKey); !ok {
			return false
		}
	case MLDSAAlgorithm:
		if _, ok := pub.(*mldsaPublicKey); !ok {
			return false
		}
	default:
		return false
	}
	return Verify(pub, msg, sig)
}

func (a Algorithm) ParsePublicKey(remote []byte) (PublicKey, error) {
	switch a {
	case Ed25519Algorithm:
		return parseEd25519PublicKey(remote)
	case MLDSAAlgorithm:
		return parseMLDSAPublicKey(remote)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, a)
	}
}

func (a Algorithm) Load(data []byte) (Attester, error) {
	switch a {
	case Ed25519Algorithm:
		return loadEd25519(data)
	case MLDSAAlgorithm:
		return loadMLDSA(data)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, a)
	}
}

func (a Algorithm) String() string {
	switch a {
	case Ed25519Algorithm:
		return "ed25519"
	case MLDSAAlgorithm:
		return "mldsa"
	default:
		return "invalid"
	}
}

func (a Algorithm) MarshalText() ([]byte, error) {
	if a != Ed25519Algorithm && a != MLDSAAlgorithm {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, a)
	}
	return []byte(a.String()), nil
}

func (a *Algorithm) UnmarshalText(text []byte) error {
	parsed, err := ParseAlgorithm(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(s) {
	case "ed25519":
		return Ed25519Algorithm, nil
	case "mldsa":
		return MLDSAAlgorithm, nil
	default:
		return invalidAlgorithm, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, s)
	}
}
