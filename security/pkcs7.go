package security

import (
	"bytes"
	"errors"
	"fmt"

	"pdfverify/der"
)

// DigestAlgorithm enumerates the digests accepted in SignerInfo.
type DigestAlgorithm int

const (
	DigestUnknown DigestAlgorithm = iota
	DigestSHA1
	DigestSHA256
	DigestSHA384
	DigestSHA512
)

func (d DigestAlgorithm) String() string {
	switch d {
	case DigestSHA1:
		return "SHA-1"
	case DigestSHA256:
		return "SHA-256"
	case DigestSHA384:
		return "SHA-384"
	case DigestSHA512:
		return "SHA-512"
	default:
		return "unknown"
	}
}

// Encoded OID content octets.
var (
	oidSignedData    = []byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x07, 0x02}
	oidMessageDigest = []byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x09, 0x04}

	oidSHA1   = []byte{0x2b, 0x0e, 0x03, 0x02, 0x1a}
	oidSHA256 = []byte{0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01}
	oidSHA384 = []byte{0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02}
	oidSHA512 = []byte{0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03}

	oidRSAEncryption = []byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x01, 0x01}
	// signatureAlgorithm variants some writers put in
	// digestEncryptionAlgorithm instead of plain rsaEncryption
	oidSHA1WithRSA   = []byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x01, 0x05}
	oidSHA256WithRSA = []byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x01, 0x0b}
	oidSHA384WithRSA = []byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x01, 0x0c}
	oidSHA512WithRSA = []byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x01, 0x0d}
)

func digestFromOID(oid []byte) DigestAlgorithm {
	switch {
	case bytes.Equal(oid, oidSHA1):
		return DigestSHA1
	case bytes.Equal(oid, oidSHA256):
		return DigestSHA256
	case bytes.Equal(oid, oidSHA384):
		return DigestSHA384
	case bytes.Equal(oid, oidSHA512):
		return DigestSHA512
	default:
		return DigestUnknown
	}
}

func isRSASignatureOID(oid []byte) bool {
	for _, candidate := range [][]byte{oidRSAEncryption, oidSHA1WithRSA, oidSHA256WithRSA, oidSHA384WithRSA, oidSHA512WithRSA} {
		if bytes.Equal(oid, candidate) {
			return true
		}
	}
	return false
}

// SignerInfo carries the fields of one CMS signer needed for RSA
// verification.
type SignerInfo struct {
	SerialNumber []byte
	Digest       DigestAlgorithm
	// SignedAttrsDER is the signed attributes re-encoded under the
	// universal SET tag, i.e. exactly the bytes the RSA signature is
	// computed over. Nil when the signer signed the content directly.
	SignedAttrsDER []byte
	// MessageDigest is the digest claimed inside the signed attributes.
	MessageDigest []byte
	Signature     []byte
}

// SignedData is a parsed PKCS#7/CMS SignedData structure.
type SignedData struct {
	Certificates [][]byte
	Signers      []SignerInfo
}

// ParseSignedData walks the DER tree of a ContentInfo carrying
// SignedData. It tolerates trailing padding after the outermost value,
// which signature placeholders always have.
func ParseSignedData(data []byte) (*SignedData, error) {
	root, _, err := der.ParsePrefix(data)
	if err != nil {
		return nil, fmt.Errorf("parse ContentInfo: %w", err)
	}
	if !root.IsUniversal(der.TagSequence) || len(root.Children) < 2 {
		return nil, errors.New("ContentInfo is not a sequence")
	}
	if !bytes.Equal(root.Children[0].OID(), oidSignedData) {
		return nil, errors.New("ContentInfo is not SignedData")
	}
	wrapper := root.Children[1]
	if !wrapper.IsContext(0) || len(wrapper.Children) != 1 {
		return nil, errors.New("SignedData wrapper malformed")
	}
	sd := wrapper.Children[0]
	if !sd.IsUniversal(der.TagSequence) || len(sd.Children) < 4 {
		return nil, errors.New("SignedData is not a sequence")
	}

	// children: version, digestAlgorithms, encapContentInfo,
	// [0] certificates?, [1] crls?, signerInfos
	out := &SignedData{}
	idx := 3
	for idx < len(sd.Children) && sd.Children[idx].Class == der.ClassContextSpecific {
		c := sd.Children[idx]
		if c.Tag == 0 {
			for _, cert := range c.Children {
				out.Certificates = append(out.Certificates, cert.Full)
			}
		}
		idx++
	}
	if idx >= len(sd.Children) {
		return nil, errors.New("SignedData missing signerInfos")
	}
	signerSet := sd.Children[idx]
	if !signerSet.IsUniversal(der.TagSet) {
		return nil, errors.New("signerInfos is not a set")
	}
	for _, si := range signerSet.Children {
		signer, err := parseSignerInfo(si)
		if err != nil {
			return nil, err
		}
		out.Signers = append(out.Signers, signer)
	}
	if len(out.Signers) == 0 {
		return nil, errors.New("SignedData has no signers")
	}
	return out, nil
}

func parseSignerInfo(si der.Value) (SignerInfo, error) {
	var out SignerInfo
	if !si.IsUniversal(der.TagSequence) || len(si.Children) < 5 {
		return out, errors.New("signerInfo malformed")
	}
	// version, issuerAndSerialNumber, digestAlgorithm,
	// [0] signedAttrs?, signatureAlgorithm, signature, [1] unsignedAttrs?
	isn := si.Children[1]
	if !isn.IsUniversal(der.TagSequence) || len(isn.Children) != 2 {
		return out, errors.New("issuerAndSerialNumber malformed")
	}
	serial, err := isn.Children[1].Integer()
	if err != nil {
		return out, fmt.Errorf("signer serial: %w", err)
	}
	out.SerialNumber = serial

	digAlg := si.Children[2]
	if !digAlg.IsUniversal(der.TagSequence) || len(digAlg.Children) < 1 {
		return out, errors.New("digestAlgorithm malformed")
	}
	out.Digest = digestFromOID(digAlg.Children[0].OID())
	if out.Digest == DigestUnknown {
		return out, errors.New("unsupported digest algorithm")
	}

	idx := 3
	if si.Children[idx].IsContext(0) {
		attrs := si.Children[idx]
		out.SignedAttrsDER = reencodeAsSet(attrs.Content)
		md, err := messageDigestAttr(attrs)
		if err != nil {
			return out, err
		}
		out.MessageDigest = md
		idx++
	}
	if idx+1 >= len(si.Children) {
		return out, errors.New("signerInfo truncated")
	}
	sigAlg := si.Children[idx]
	if !sigAlg.IsUniversal(der.TagSequence) || len(sigAlg.Children) < 1 || !isRSASignatureOID(sigAlg.Children[0].OID()) {
		return out, errors.New("unsupported signature algorithm")
	}
	sig := si.Children[idx+1]
	if !sig.IsUniversal(der.TagOctetString) {
		return out, errors.New("encryptedDigest is not an octet string")
	}
	out.Signature = sig.Content
	return out, nil
}

// reencodeAsSet rebuilds the signed attributes under the universal SET
// tag (0x31). The attributes travel as [0] IMPLICIT inside SignerInfo,
// but RFC 5652 defines the signature input over their SET encoding.
func reencodeAsSet(content []byte) []byte {
	var out []byte
	out = append(out, 0x31)
	out = append(out, encodeLength(len(content))...)
	return append(out, content...)
}

func encodeLength(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	var body []byte
	for v := n; v > 0; v >>= 8 {
		body = append([]byte{byte(v)}, body...)
	}
	return append([]byte{0x80 | byte(len(body))}, body...)
}

func messageDigestAttr(attrs der.Value) ([]byte, error) {
	for _, attr := range attrs.Children {
		if !attr.IsUniversal(der.TagSequence) || len(attr.Children) != 2 {
			continue
		}
		if !bytes.Equal(attr.Children[0].OID(), oidMessageDigest) {
			continue
		}
		set := attr.Children[1]
		if !set.IsUniversal(der.TagSet) || len(set.Children) != 1 {
			return nil, errors.New("messageDigest attribute malformed")
		}
		val := set.Children[0]
		if !val.IsUniversal(der.TagOctetString) {
			return nil, errors.New("messageDigest is not an octet string")
		}
		return val.Content, nil
	}
	return nil, errors.New("signed attributes missing messageDigest")
}
