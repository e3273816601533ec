// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"
)

// DID method prefixes the substrate understands out of the box.
const (
	// MethodKey identifies key-fingerprint DIDs.
	MethodKey = "did:key:"

	// MethodEthr identifies Ethereum-address DIDs.
	MethodEthr = "did:ethr:"

	// keyFingerprintLen is the number of leading characters kept from
	// the url-safe base64 encoding of the DER public key.
	keyFingerprintLen = 16

	ethrAddressLen = 42 // "0x" + 40 hex chars
)

// KeyDID derives the did:key identifier for an RSA public key: the first
// 16 characters of the url-safe base64 encoding of its DER form.
func KeyDID(pub *rsa.PublicKey) (string, error) {
	fp, err := KeyFingerprint(pub)
	if err != nil {
		return "", err
	}
	return MethodKey + fp, nil
}

// KeyFingerprint computes the 16-character public key fingerprint used in
// did:key identifiers.
func KeyFingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	enc := base64.URLEncoding.EncodeToString(der)
	if len(enc) < keyFingerprintLen {
		return "", fmt.Errorf("public key encoding too short for fingerprint")
	}
	return enc[:keyFingerprintLen], nil
}

// MethodVerifier verifies an identity for one DID method. Implementations
// may resolve external documents (e.g. an on-chain registry); the
// defaults perform local checks only.
type MethodVerifier func(ident *Identity) error

// DefaultVerifiers returns the built-in verifier set for did:key and
// did:ethr. Callers may replace or extend entries before handing the set
// to a registry.
func DefaultVerifiers() map[string]MethodVerifier {
	return map[string]MethodVerifier{
		MethodKey:  VerifyKeyDID,
		MethodEthr: VerifyEthereumDID,
	}
}

// VerifyDID dispatches to the verifier registered for the identity's DID
// method prefix. Unknown methods fail with ErrUnsupportedDIDMethod.
func VerifyDID(ident *Identity, verifiers map[string]MethodVerifier) error {
	if ident == nil || ident.DID == "" {
		return ErrMalformedDID
	}
	for prefix, verify := range verifiers {
		if strings.HasPrefix(ident.DID, prefix) {
			return verify(ident)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedDIDMethod, ident.DID)
}

// VerifyKeyDID checks a did:key identity: the fingerprint must be present
// and, when public key material is attached, must match the fingerprint
// recomputed from it.
func VerifyKeyDID(ident *Identity) error {
	suffix := strings.TrimPrefix(ident.DID, MethodKey)
	if suffix == "" || suffix == ident.DID {
		return fmt.Errorf("%w: %s", ErrMalformedDID, ident.DID)
	}
	if len(suffix) != keyFingerprintLen {
		return fmt.Errorf("%w: fingerprint must be %d characters", ErrMalformedDID, keyFingerprintLen)
	}
	if ident.PublicKeyPEM == "" {
		return nil
	}

	pub, err := parsePublicKeyPEM(ident.PublicKeyPEM)
	if err != nil {
		return err
	}
	fp, err := KeyFingerprint(pub)
	if err != nil {
		return err
	}
	if fp != suffix {
		return NewSecurityError("did:key fingerprint does not match public key")
	}
	return nil
}

// VerifyEthereumDID checks a did:ethr identity's address format. On-chain
// resolution belongs in a replacement verifier.
func VerifyEthereumDID(ident *Identity) error {
	address := strings.TrimPrefix(ident.DID, MethodEthr)
	if address == ident.DID {
		return fmt.Errorf("%w: %s", ErrMalformedDID, ident.DID)
	}
	return checkEthereumAddress(address)
}

func checkEthereumAddress(address string) error {
	if !strings.HasPrefix(address, "0x") || len(address) != ethrAddressLen {
		return fmt.Errorf("%w: ethereum address must be 0x followed by 40 hex characters", ErrMalformedDID)
	}
	for _, r := range address[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return fmt.Errorf("%w: non-hex character in ethereum address", ErrMalformedDID)
		}
	}
	return nil
}
