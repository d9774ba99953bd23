// Package security validates RSA PKCS#7 signatures embedded in PDFs.
//
// The pipeline is: locate /ByteRange and /Contents textually, hash the
// two signed spans, walk the CMS SignedData structure, pick the signer
// certificate by serial number, and check the RSASSA-PKCS1-v1_5
// signature with a byte-exact DigestInfo comparison. Certificate chain
// and revocation checking are out of scope.
package security

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"pdfverify/observability"
)

type Config struct {
	Logger observability.Logger
}

type Verifier struct {
	cfg Config
}

func NewVerifier(cfg Config) *Verifier {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	return &Verifier{cfg: cfg}
}

// Result reports the outcome of a structurally successful verification.
type Result struct {
	Valid  bool
	Digest DigestAlgorithm
	// Reason is set when Valid is false.
	Reason string
}

// Verify checks the first signature found in pdf. Structural failures
// (no signature, malformed CMS, missing certificate) return an error;
// a well-formed signature that does not match returns Valid=false.
func (v *Verifier) Verify(pdf []byte) (Result, error) {
	start := time.Now()
	defer func() {
		v.cfg.Logger.Debug("signature check finished",
			observability.Int64(observability.MetricVerifyTime, time.Since(start).Microseconds()))
	}()

	sig, err := FindSignature(pdf)
	if err != nil {
		return Result{}, err
	}
	signedBytes := sig.SignedBytes(pdf)

	sd, err := ParseSignedData(sig.Contents)
	if err != nil {
		return Result{}, err
	}

	signer := sd.Signers[0]
	contentDigest, err := Hash(signer.Digest, signedBytes)
	if err != nil {
		return Result{}, err
	}

	key, err := signerKey(sd, signer)
	if err != nil {
		return Result{}, err
	}

	res := Result{Valid: true, Digest: signer.Digest}
	if signer.SignedAttrsDER != nil {
		// Two-stage check: the attributes must claim the content digest,
		// and the RSA signature covers the attributes.
		if !bytes.Equal(signer.MessageDigest, contentDigest) {
			v.cfg.Logger.Warn("messageDigest attribute does not match content")
			return Result{Valid: false, Digest: signer.Digest, Reason: "messageDigest mismatch"}, nil
		}
		attrsDigest, err := Hash(signer.Digest, signer.SignedAttrsDER)
		if err != nil {
			return Result{}, err
		}
		if err := VerifyPKCS1v15(key, signer.Digest, attrsDigest, signer.Signature); err != nil {
			if errors.Is(err, ErrBadSignature) {
				return Result{Valid: false, Digest: signer.Digest, Reason: "signature mismatch"}, nil
			}
			return Result{}, err
		}
		return res, nil
	}

	if err := VerifyPKCS1v15(key, signer.Digest, contentDigest, signer.Signature); err != nil {
		if errors.Is(err, ErrBadSignature) {
			return Result{Valid: false, Digest: signer.Digest, Reason: "signature mismatch"}, nil
		}
		return Result{}, err
	}
	return res, nil
}

// signerKey finds the certificate matching the signer's serial number
// and extracts its RSA key.
func signerKey(sd *SignedData, signer SignerInfo) (*PublicKey, error) {
	if len(sd.Certificates) == 0 {
		return nil, errors.New("SignedData carries no certificates")
	}
	for _, certDER := range sd.Certificates {
		serial, key, err := CertificateKey(certDER)
		if err != nil {
			continue // e.g. an ECDSA intermediate in the bag
		}
		if bytes.Equal(serial, signer.SerialNumber) {
			return key, nil
		}
	}
	return nil, fmt.Errorf("no certificate matches signer serial")
}
