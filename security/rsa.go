package security

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"

	"pdfverify/der"
)

// PublicKey is an RSA public key recovered from a certificate.
type PublicKey struct {
	N *big.Int
	E int
}

// ErrBadSignature marks a structurally sound signature whose value does
// not verify against the key and digest.
var ErrBadSignature = errors.New("signature verification failed")

// RFC 8017 (and 3447 before it) EMSA-PKCS1-v1_5 DigestInfo prefixes.
// Static bytes instead of DER-encoding at runtime keeps verification a
// single compare.
var digestInfoPrefix = map[DigestAlgorithm][]byte{
	DigestSHA1: {
		0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2b, 0x0e,
		0x03, 0x02, 0x1a, 0x05, 0x00, 0x04, 0x14,
	},
	DigestSHA256: {
		0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86,
		0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05,
		0x00, 0x04, 0x20,
	},
	DigestSHA384: {
		0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86,
		0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05,
		0x00, 0x04, 0x30,
	},
	DigestSHA512: {
		0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86,
		0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05,
		0x00, 0x04, 0x40,
	},
}

// Hash computes the digest of data under the given algorithm.
func Hash(alg DigestAlgorithm, data []byte) ([]byte, error) {
	switch alg {
	case DigestSHA1:
		sum := sha1.Sum(data)
		return sum[:], nil
	case DigestSHA256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	case DigestSHA384:
		sum := sha512.Sum384(data)
		return sum[:], nil
	case DigestSHA512:
		sum := sha512.Sum512(data)
		return sum[:], nil
	default:
		return nil, errors.New("unsupported digest algorithm")
	}
}

// VerifyPKCS1v15 checks an RSASSA-PKCS1-v1_5 signature over digest.
// The encoded message is recomputed from the static DigestInfo prefix
// and compared byte for byte against sig^e mod n.
func VerifyPKCS1v15(pub *PublicKey, alg DigestAlgorithm, digest, sig []byte) error {
	prefix, ok := digestInfoPrefix[alg]
	if !ok {
		return errors.New("unsupported digest algorithm")
	}
	if pub.N == nil || pub.N.Sign() <= 0 {
		return errors.New("invalid modulus")
	}
	if pub.E < 3 {
		return errors.New("invalid public exponent")
	}
	k := (pub.N.BitLen() + 7) / 8
	if len(sig) != k {
		return fmt.Errorf("signature length %d does not match modulus size %d", len(sig), k)
	}

	c := new(big.Int).SetBytes(sig)
	if c.Cmp(pub.N) >= 0 {
		return errors.New("signature out of range")
	}
	m := new(big.Int).Exp(c, big.NewInt(int64(pub.E)), pub.N)
	em := m.FillBytes(make([]byte, k))

	// EM = 0x00 || 0x01 || PS (0xff..) || 0x00 || DigestInfo
	tLen := len(prefix) + len(digest)
	if k < tLen+11 {
		return errors.New("modulus too small for digest")
	}
	expected := make([]byte, 0, k)
	expected = append(expected, 0x00, 0x01)
	for i := 0; i < k-tLen-3; i++ {
		expected = append(expected, 0xff)
	}
	expected = append(expected, 0x00)
	expected = append(expected, prefix...)
	expected = append(expected, digest...)

	if !bytes.Equal(em, expected) {
		return ErrBadSignature
	}
	return nil
}

// CertificateKey extracts the RSA public key and serial number from a
// DER certificate. The walk goes tbsCertificate -> subjectPublicKeyInfo;
// the RSAPublicKey inside the SPKI bit string is read with cryptobyte.
func CertificateKey(certDER []byte) (serial []byte, key *PublicKey, err error) {
	cert, err := der.Parse(certDER)
	if err != nil {
		return nil, nil, fmt.Errorf("parse certificate: %w", err)
	}
	if !cert.IsUniversal(der.TagSequence) || len(cert.Children) < 3 {
		return nil, nil, errors.New("certificate is not a sequence")
	}
	tbs := cert.Children[0]
	if !tbs.IsUniversal(der.TagSequence) || len(tbs.Children) < 6 {
		return nil, nil, errors.New("tbsCertificate malformed")
	}

	// tbs: [0] version?, serialNumber, signature, issuer, validity,
	// subject, subjectPublicKeyInfo, ...
	idx := 0
	if tbs.Children[0].IsContext(0) {
		idx = 1
	}
	if len(tbs.Children) < idx+6 {
		return nil, nil, errors.New("tbsCertificate too short")
	}
	serial, err = tbs.Children[idx].Integer()
	if err != nil {
		return nil, nil, fmt.Errorf("certificate serial: %w", err)
	}

	spki := tbs.Children[idx+5]
	if !spki.IsUniversal(der.TagSequence) || len(spki.Children) != 2 {
		return nil, nil, errors.New("subjectPublicKeyInfo malformed")
	}
	alg := spki.Children[0]
	if !alg.IsUniversal(der.TagSequence) || len(alg.Children) < 1 || !bytes.Equal(alg.Children[0].OID(), oidRSAEncryption) {
		return nil, nil, errors.New("certificate key is not RSA")
	}
	keyBits, err := spki.Children[1].BitStringBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("subjectPublicKey: %w", err)
	}

	key, err = parseRSAPublicKey(keyBits)
	if err != nil {
		return nil, nil, err
	}
	return serial, key, nil
}

func parseRSAPublicKey(data []byte) (*PublicKey, error) {
	input := cryptobyte.String(data)
	var inner cryptobyte.String
	if !input.ReadASN1(&inner, cryptobyte_asn1.SEQUENCE) || !input.Empty() {
		return nil, errors.New("RSAPublicKey is not a sequence")
	}
	n := new(big.Int)
	var e int
	if !inner.ReadASN1Integer(n) || !inner.ReadASN1Integer(&e) || !inner.Empty() {
		return nil, errors.New("RSAPublicKey integers malformed")
	}
	if n.Sign() <= 0 {
		return nil, errors.New("RSA modulus not positive")
	}
	return &PublicKey{N: n, E: e}, nil
}
