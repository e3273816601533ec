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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyDIDDispatch(t *testing.T) {
	verifiers := DefaultVerifiers()

	keyIdent, err := NewKeyBased()
	require.NoError(t, err)
	assert.NoError(t, VerifyDID(keyIdent, verifiers))

	ethrIdent, err := NewEthereumBased("0x" + strings.Repeat("12", 20))
	require.NoError(t, err)
	assert.NoError(t, VerifyDID(ethrIdent, verifiers))

	unknown := &Identity{DID: "did:web:example.com"}
	err = VerifyDID(unknown, verifiers)
	assert.ErrorIs(t, err, ErrUnsupportedDIDMethod)

	assert.ErrorIs(t, VerifyDID(&Identity{}, verifiers), ErrMalformedDID)
	assert.ErrorIs(t, VerifyDID(nil, verifiers), ErrMalformedDID)
}

func TestVerifyKeyDIDFingerprintMismatch(t *testing.T) {
	a, err := NewKeyBased()
	require.NoError(t, err)
	b, err := NewKeyBased()
	require.NoError(t, err)

	// Claiming a's DID with b's public key must be refused as a
	// security failure, not a plain false.
	forged := &Identity{DID: a.DID, PublicKeyPEM: b.PublicKeyPEM}
	err = VerifyKeyDID(forged)
	require.Error(t, err)
	assert.True(t, IsSecurityError(err))
}

func TestVerifyKeyDIDWithoutKeyMaterial(t *testing.T) {
	// Format-only check when no public key is attached.
	ident := &Identity{DID: MethodKey + strings.Repeat("a", 16)}
	assert.NoError(t, VerifyKeyDID(ident))

	short := &Identity{DID: MethodKey + "abc"}
	assert.ErrorIs(t, VerifyKeyDID(short), ErrMalformedDID)
}

func TestVerifyEthereumDIDFormat(t *testing.T) {
	good := &Identity{DID: MethodEthr + "0x" + strings.Repeat("Ab", 20)}
	assert.NoError(t, VerifyEthereumDID(good))

	bad := &Identity{DID: MethodEthr + "0x123"}
	assert.ErrorIs(t, VerifyEthereumDID(bad), ErrMalformedDID)
}

func TestKeyDIDDeterministic(t *testing.T) {
	ident, err := NewKeyBased()
	require.NoError(t, err)

	pub, err := parsePublicKeyPEM(ident.PublicKeyPEM)
	require.NoError(t, err)

	did1, err := KeyDID(pub)
	require.NoError(t, err)
	did2, err := KeyDID(pub)
	require.NoError(t, err)

	assert.Equal(t, ident.DID, did1)
	assert.Equal(t, did1, did2)
}

func TestSecurityErrorMatching(t *testing.T) {
	err := NewSecurityError("signature invalid for %s", "agent-a")
	assert.True(t, IsSecurityError(err))
	assert.Contains(t, err.Error(), "agent-a")
	assert.False(t, IsSecurityError(ErrMalformedDID))
}
