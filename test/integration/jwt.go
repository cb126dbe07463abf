package integration

import (
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestClaims holds the configurable claims for generating test JWT tokens.
type TestClaims struct {
	OperatorID string
	PlantID    string
	Name       string
	Roles      []string
	Extra      map[string]any
}

// tokenIssuer signs operator tokens with a shared HMAC secret.
type tokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
}

func newTokenIssuer() *tokenIssuer {
	return &tokenIssuer{
		secret:   []byte("integration-secret-0123456789abcdef"),
		issuer:   "https://auth.plant.test",
		audience: "cylinder-portal-test",
	}
}

// GenerateToken creates a valid, signed JWT token with the given claims.
func (ti *tokenIssuer) GenerateToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(claims, now.Add(-time.Minute), now.Add(time.Hour))
}

// GenerateExpiredToken creates a JWT token that expired in the past.
func (ti *tokenIssuer) GenerateExpiredToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(claims, now.Add(-2*time.Hour), now.Add(-time.Hour))
}

// GenerateTokenWithSecret signs a token with a key the portal does not
// trust.
func (ti *tokenIssuer) GenerateTokenWithSecret(claims TestClaims, secret []byte) string {
	now := time.Now()
	return signClaims(ti.mapClaims(claims, now, now.Add(time.Hour)), secret)
}

func (ti *tokenIssuer) sign(claims TestClaims, iat, exp time.Time) string {
	return signClaims(ti.mapClaims(claims, iat, exp), ti.secret)
}

func (ti *tokenIssuer) mapClaims(claims TestClaims, iat, exp time.Time) jwt.MapClaims {
	mapClaims := jwt.MapClaims{
		"iss":      ti.issuer,
		"aud":      ti.audience,
		"iat":      jwt.NewNumericDate(iat),
		"exp":      jwt.NewNumericDate(exp),
		"sub":      claims.OperatorID,
		"plant_id": claims.PlantID,
		"name":     claims.Name,
	}

	if len(claims.Roles) > 0 {
		// Store as []any to match JWT decode behavior.
		roles := make([]any, len(claims.Roles))
		for i, r := range claims.Roles {
			roles[i] = r
		}
		mapClaims["roles"] = roles
	}

	maps.Copy(mapClaims, claims.Extra)
	return mapClaims
}

func signClaims(claims jwt.MapClaims, secret []byte) string {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

// Secret returns the HMAC key the portal verifies tokens with.
func (ti *tokenIssuer) Secret() []byte {
	return ti.secret
}

// Issuer returns the expected token issuer claim.
func (ti *tokenIssuer) Issuer() string {
	return ti.issuer
}

// Audience returns the expected token audience claim.
func (ti *tokenIssuer) Audience() string {
	return ti.audience
}
