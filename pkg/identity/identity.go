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

// Package identity provides decentralized agent identities: DID strings
// backed by RSA key pairs, RSA-PSS message signing, and pluggable
// per-method DID verification.
package identity

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/teradata-labs/mesh/pkg/types"
)

const (
	// KeyBits is the RSA modulus size for generated identities.
	KeyBits = 2048

	pemTypePrivate = "PRIVATE KEY"
	pemTypePublic  = "PUBLIC KEY"
)

// Identity is an agent's cryptographic identity. The private key is held
// only by the owning agent and never serialized.
type Identity struct {
	// DID is the decentralized identifier (did:key:... or did:ethr:...).
	DID string `json:"did" yaml:"did"`

	// PublicKeyPEM is the PKIX public key, PEM encoded.
	PublicKeyPEM string `json:"public_key" yaml:"public_key"`

	// PrivateKeyPEM is the PKCS#8 private key, PEM encoded. Present
	// only on the owning agent's copy; excluded from serialization.
	PrivateKeyPEM string `json:"-" yaml:"-"`

	// Status is the verification lifecycle state. Transitions are owned
	// by the registry.
	Status types.VerificationStatus `json:"verification_status" yaml:"verification_status"`

	// CreatedAt is the identity creation time.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	// Metadata records key provenance (key type, size, creation method).
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
}

// NewKeyBased generates a fresh RSA key pair and derives a did:key
// identity from the public key fingerprint. The result is immediately
// usable for signing and starts in the verified state, mirroring
// self-sovereign key creation.
func NewKeyBased() (*Identity, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	did, err := KeyDID(&priv.PublicKey)
	if err != nil {
		return nil, err
	}

	privPEM, pubPEM, err := encodeKeyPair(priv)
	if err != nil {
		return nil, err
	}

	return &Identity{
		DID:           did,
		PublicKeyPEM:  pubPEM,
		PrivateKeyPEM: privPEM,
		Status:        types.VerificationVerified,
		CreatedAt:     time.Now().UTC(),
		Metadata: map[string]string{
			"key_type":        "RSA",
			"key_size":        "2048",
			"creation_method": "key_based",
		},
		privateKey: priv,
		publicKey:  &priv.PublicKey,
	}, nil
}

// NewEthereumBased wraps a caller-supplied Ethereum address in a did:ethr
// identity and generates a fresh RSA key pair for message signing. The
// address is format-checked; on-chain resolution is left to a registered
// method verifier.
func NewEthereumBased(address string) (*Identity, error) {
	if err := checkEthereumAddress(address); err != nil {
		return nil, err
	}

	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	privPEM, pubPEM, err := encodeKeyPair(priv)
	if err != nil {
		return nil, err
	}

	return &Identity{
		DID:           MethodEthr + address,
		PublicKeyPEM:  pubPEM,
		PrivateKeyPEM: privPEM,
		Status:        types.VerificationPending,
		CreatedAt:     time.Now().UTC(),
		Metadata: map[string]string{
			"key_type":        "RSA",
			"key_size":        "2048",
			"creation_method": "ethereum_based",
		},
		privateKey: priv,
		publicKey:  &priv.PublicKey,
	}, nil
}

// FromPublicPEM reconstructs a verification-only identity from its DID
// and public key, as shipped in registrations and manifests.
func FromPublicPEM(did, publicKeyPEM string, status types.VerificationStatus) (*Identity, error) {
	pub, err := parsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return &Identity{
		DID:          did,
		PublicKeyPEM: publicKeyPEM,
		Status:       status,
		CreatedAt:    time.Now().UTC(),
		publicKey:    pub,
	}, nil
}

// Sign produces a base64 RSA-PSS-SHA256 signature over payload. Fails
// with ErrNoPrivateKey on a public-only identity.
func (i *Identity) Sign(payload []byte) (string, error) {
	priv, err := i.rsaPrivateKey()
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}

	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifySignature checks a base64 RSA-PSS-SHA256 signature over payload
// against the identity's public key.
func (i *Identity) VerifySignature(payload []byte, signature string) error {
	pub, err := i.rsaPublicKey()
	if err != nil {
		return err
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}

	digest := sha256.Sum256(payload)
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
	}); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// PublicOnly returns a copy stripped of private key material, safe to
// embed in registrations shared with other agents.
func (i *Identity) PublicOnly() *Identity {
	out := &Identity{
		DID:          i.DID,
		PublicKeyPEM: i.PublicKeyPEM,
		Status:       i.Status,
		CreatedAt:    i.CreatedAt,
		publicKey:    i.publicKey,
	}
	if i.Metadata != nil {
		out.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// HasPrivateKey reports whether this copy can sign.
func (i *Identity) HasPrivateKey() bool {
	return i.privateKey != nil || i.PrivateKeyPEM != ""
}

func (i *Identity) rsaPrivateKey() (*rsa.PrivateKey, error) {
	if i.privateKey != nil {
		return i.privateKey, nil
	}
	if i.PrivateKeyPEM == "" {
		return nil, ErrNoPrivateKey
	}
	return parsePrivateKeyPEM(i.PrivateKeyPEM)
}

func (i *Identity) rsaPublicKey() (*rsa.PublicKey, error) {
	if i.publicKey != nil {
		return i.publicKey, nil
	}
	return parsePublicKeyPEM(i.PublicKeyPEM)
}

func encodeKeyPair(priv *rsa.PrivateKey) (privPEM, pubPEM string, err error) {
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	privPEM = string(pem.EncodeToMemory(&pem.Block{Type: pemTypePrivate, Bytes: privDER}))
	pubPEM = string(pem.EncodeToMemory(&pem.Block{Type: pemTypePublic, Bytes: pubDER}))
	return privPEM, pubPEM, nil
}

func parsePrivateKeyPEM(data string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Older exports may be PKCS#1.
		if pkcs1, err1 := x509.ParsePKCS1PrivateKey(block.Bytes); err1 == nil {
			return pkcs1, nil
		}
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, expected RSA", key)
	}
	return rsaKey, nil
}

func parsePublicKeyPEM(data string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in public key")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, expected RSA", key)
	}
	return rsaKey, nil
}
