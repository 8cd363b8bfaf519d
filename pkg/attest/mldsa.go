package attest

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
)

type MLDSA struct {
	publicKey  *mldsa65.PublicKey
	privateKey *mldsa65.PrivateKey
}

func NewMLDSA() (Attester, error) {
	public, private, err := mldsa65.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	return &MLDSA{publicKey: public, privateKey: private}, nil
}

func (m *MLDSA) PublicKey() PublicKey {
	return &mldsaPublicKey{m.publicKey}
}

func (m *MLDSA) Sign(msg []byte) ([]byte, error) {
	sig := make([]byte, mldsa65.SignatureSize)
	err := mldsa65.SignTo(m.privateKey, msg, nil, true, sig)
	return sig, err
}

func (m *MLDSA) Marshal() ([]byte, error) {
	b, err := m.privateKey.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshalling private key: %w", err)
	}
	return b, nil
}

type mldsaPublicKey struct {
	key *mldsa65.PublicKey
}

func parseMLDSAPublicKey(remote []byte) (PublicKey, error) {
	mlPub, err := mldsa65.Scheme().UnmarshalBinaryPublicKey(remote)
	if err != nil {
		return nil, fmt.Errorf("unmarshal public key: %w", err)
	}
	return &mldsaPublicKey{mlPub.(*mldsa65.PublicKey)}, nil
}

func (m *mldsaPublicKey) Marshal() []byte {
	b, err := m.key.MarshalBinary()
	if err != nil {
		panic(fmt.Errorf("marshalling mlDSA public key: %v", err))
	}
	return b
}

func (m *mldsaPublicKey) Base64Encoding() string {
	return base64.RawStdEncoding.EncodeToString(m.Marshal())
}

func (m *mldsaPublicKey) Equal(key PublicKey) bool {
	pk, ok := key.(*mldsaPublicKey)
	if !ok {
		return false
	}
	return m.key.Equal(pk.key)
}

func loadMLDSA(data []byte) (Attester, error) {
	mlPrivate, err := mldsa65.Scheme().UnmarshalBinaryPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal private key: %w", err)
	}
	return &MLDSA{
		privateKey: mlPrivate.(*mldsa65.PrivateKey),
		publicKey:  mlPrivate.Public().(*mldsa65.PublicKey),
	}, nil
}
