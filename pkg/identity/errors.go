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
	"errors"
	"fmt"
)

var (
	// ErrNoPrivateKey is returned when signing is attempted on an
	// identity that carries only public key material.
	ErrNoPrivateKey = errors.New("identity has no private key")

	// ErrMalformedDID is returned when a DID string does not parse.
	ErrMalformedDID = errors.New("malformed DID")

	// ErrUnsupportedDIDMethod is returned when no verifier is
	// registered for the DID's method prefix.
	ErrUnsupportedDIDMethod = errors.New("unsupported DID method")
)

// SecurityError marks failures that must refuse delivery rather than be
// treated as routine routing misses: invalid signatures, unverified
// senders, identity verification failures. The hub returns these as
// errors; everything else routing-related is a plain false.
type SecurityError struct {
	Reason string
}

// Error implements the error interface.
func (e *SecurityError) Error() string {
	return "security: " + e.Reason
}

// NewSecurityError builds a SecurityError with a formatted reason.
func NewSecurityError(format string, args ...interface{}) *SecurityError {
	return &SecurityError{Reason: fmt.Sprintf(format, args...)}
}

// IsSecurityError reports whether err is (or wraps) a SecurityError.
func IsSecurityError(err error) bool {
	var se *SecurityError
	return errors.As(err, &se)
}
