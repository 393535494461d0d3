// Package manifest implements signed trust manifests: an anchor's
// declaration of subordinate burrows and their roles, distributed as part
// of federation (spec.md §4.8).
package manifest

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrManifestMalformed is returned when a manifest's signature cannot be
// decoded.
var ErrManifestMalformed = errors.New("manifest: malformed signature")

// ErrSignatureInvalid is returned when a manifest's signature does not
// verify against the claimed anchor key.
var ErrSignatureInvalid = errors.New("manifest: signature invalid")

// MemberRecord describes one subordinate burrow named in a manifest.
type MemberRecord struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Expires int64  `json:"expires"`
}

// TrustManifest is an anchor-signed declaration of its membership. All
// fields except Signature are covered by the signature.
//
// Fields are serialised via encoding/json, which emits struct fields in
// fixed declaration order; this gives a deterministic canonical encoding
// without a separate canonicalising JSON library, as long as Signature is
// always cleared before computing the signed payload.
type TrustManifest struct {
	Anchor    string         `json:"anchor"`
	Members   []MemberRecord `json:"members"`
	Issued    int64          `json:"issued"`
	Signature string         `json:"signature"`
}

// payload returns the canonical bytes signed over: the manifest encoded
// with Signature cleared.
func payload(m TrustManifest) ([]byte, error) {
	m.Signature = ""
	return json.Marshal(m)
}

// Sign builds a new manifest for anchorID over members, stamped with the
// given issued time, and signs it with priv. anchorID should match priv's corresponding burrow
// identity.
func Sign(anchorID string, members []MemberRecord, priv ed25519.PrivateKey, issued time.Time) (TrustManifest, error) {
	m := TrustManifest{
		Anchor:  anchorID,
		Members: members,
		Issued:  issued.Unix(),
	}
	data, err := payload(m)
	if err != nil {
		return TrustManifest{}, fmt.Errorf("manifest: encode payload: %w", err)
	}
	sig := ed25519.Sign(priv, data)
	m.Signature = base64.StdEncoding.EncodeToString(sig)
	return m, nil
}

// Verify checks the manifest's signature against pub.
func (m TrustManifest) Verify(pub ed25519.PublicKey) error {
	sigBytes, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrManifestMalformed, err)
	}
	data, err := payload(m)
	if err != nil {
		return fmt.Errorf("manifest: encode payload: %w", err)
	}
	if !ed25519.Verify(pub, data, sigBytes) {
		return ErrSignatureInvalid
	}
	return nil
}
