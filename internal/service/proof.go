package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification proofs are short-lived HS256 tokens minted by the game-side
// plugin after it has authenticated the player. The claims bind the player's
// Minecraft UUID (sub) to one specific link token (aud), so a proof captured
// for one session cannot be replayed against another.
type proofVerifier struct {
	secret []byte
}

func newProofVerifier(secret string) *proofVerifier {
	return &proofVerifier{secret: []byte(secret)}
}

// Verify checks signature, expiry and the uuid↔token binding.
func (v *proofVerifier) Verify(proof, token, minecraftUUID string) error {
	parsed, err := jwt.ParseWithClaims(proof, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (interface{}, error) {
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithAudience(token),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("parse proof: %w", err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return fmt.Errorf("invalid proof claims")
	}
	if claims.Subject != minecraftUUID {
		return fmt.Errorf("proof subject %q does not match uuid %q", claims.Subject, minecraftUUID)
	}
	return nil
}

// MintProof signs a verification proof. Used by tests and by deployments
// where the game plugin shares this process's secret via the admin API.
func MintProof(secret, token, minecraftUUID string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   minecraftUUID,
		Audience:  jwt.ClaimStrings{token},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}
