package security

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuer_IssueAndVerify(t *testing.T) {
	p, err := newTestTokenIssuer()
	if err != nil {
		t.Fatalf("newTestTokenIssuer: %v", err)
	}
	token, exp, err := p.IssueAccess(Principal{UserID: "u1", Email: "alice@example.com", Role: "user"})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if token == "" {
		t.Fatal("access token empty")
	}
	if !exp.After(time.Now()) {
		t.Fatal("expires at in the past")
	}

	claims, err := p.VerifyAccess(token)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "alice@example.com" || claims.Role != "user" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.ID == "" {
		t.Error("jti should be set")
	}
}

func TestTokenIssuer_EmptySubject(t *testing.T) {
	p, _ := newTestTokenIssuer()
	if _, _, err := p.IssueAccess(Principal{}); err == nil {
		t.Fatal("IssueAccess with empty subject should fail")
	}
}

func TestTokenIssuer_RejectsInvalid(t *testing.T) {
	p, err := newTestTokenIssuer()
	if err != nil {
		t.Fatalf("newTestTokenIssuer: %v", err)
	}
	valid, _, _ := p.IssueAccess(Principal{UserID: "u1"})

	otherKey, _ := NewHMACKey("test", "another-secret-0123456789abcdef-01")
	otherRing, _ := NewKeyring(otherKey)
	forged, _, _ := NewTokenIssuer(otherRing, "test-issuer", "test-audience", time.Minute, 0).IssueAccess(Principal{UserID: "u1"})

	wrongIss, _, _ := NewTokenIssuer(p.keys, "other-issuer", "test-audience", time.Minute, 0).IssueAccess(Principal{UserID: "u1"})
	wrongAud, _, _ := NewTokenIssuer(p.keys, "test-issuer", "other-audience", time.Minute, 0).IssueAccess(Principal{UserID: "u1"})

	unknownKid, _ := NewHMACKey("ghost", testHMACSecret)
	ghostRing, _ := NewKeyring(unknownKid)
	ghost, _, _ := NewTokenIssuer(ghostRing, "test-issuer", "test-audience", time.Minute, 0).IssueAccess(Principal{UserID: "u1"})

	none := jwt.NewWithClaims(jwt.SigningMethodNone, AccessClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: "u1", Issuer: "test-issuer", Audience: jwt.ClaimStrings{"test-audience"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}})
	none.Header["kid"] = "test"
	noneToken, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	testCases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"malformed", "not-a-jwt"},
		{"truncated", valid[:len(valid)-4]},
		{"bad signature", forged},
		{"wrong issuer", wrongIss},
		{"wrong audience", wrongAud},
		{"unknown kid", ghost},
		{"alg none", noneToken},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := p.VerifyAccess(tc.token); err != ErrInvalidToken {
				t.Errorf("VerifyAccess err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestTokenIssuer_ExpiryAndLeeway(t *testing.T) {
	p, _ := newTestTokenIssuer()
	issuedAt := time.Now().Add(-20 * time.Minute)
	p.now = func() time.Time { return issuedAt }
	token, _, err := p.IssueAccess(Principal{UserID: "u1"})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	// 15m TTL issued 20m ago: expired by 5m.
	p.now = time.Now
	if _, err := p.VerifyAccess(token); err != ErrInvalidToken {
		t.Fatalf("expired token err = %v, want ErrInvalidToken", err)
	}

	lenient := NewTokenIssuer(p.keys, p.issuer, p.audience, p.accessTTL, 10*time.Minute)
	if _, err := lenient.VerifyAccess(token); err != nil {
		t.Fatalf("token within leeway should verify: %v", err)
	}
}

func TestTokenIssuer_KeyRotation(t *testing.T) {
	oldKey, _ := NewHMACKey("v1", testHMACSecret)
	oldRing, _ := NewKeyring(oldKey)
	oldIssuer := NewTokenIssuer(oldRing, "iss", "aud", time.Minute, 0)
	oldToken, _, _ := oldIssuer.IssueAccess(Principal{UserID: "u1"})

	ring, err := LoadKeyring(KeyringOptions{
		KeyID:           "v2",
		Secret:          "rotated-secret-0123456789abcdef-0",
		PreviousSecrets: map[string]string{"v1": testHMACSecret},
	})
	if err != nil {
		t.Fatalf("LoadKeyring: %v", err)
	}
	if ring.Active().ID != "v2" {
		t.Errorf("active kid = %q, want v2", ring.Active().ID)
	}
	if got := strings.Join(ring.IDs(), ","); got != "v1,v2" {
		t.Errorf("IDs = %q", got)
	}
	issuer := NewTokenIssuer(ring, "iss", "aud", time.Minute, 0)
	if _, err := issuer.VerifyAccess(oldToken); err != nil {
		t.Fatalf("token signed by retired key should verify: %v", err)
	}
	newToken, _, _ := issuer.IssueAccess(Principal{UserID: "u1"})
	parsed, _, err := jwt.NewParser().ParseUnverified(newToken, &AccessClaims{})
	if err != nil {
		t.Fatalf("ParseUnverified: %v", err)
	}
	if parsed.Header["kid"] != "v2" {
		t.Errorf("kid header = %v, want v2", parsed.Header["kid"])
	}
	if _, err := oldIssuer.VerifyAccess(newToken); err != ErrInvalidToken {
		t.Errorf("old ring should not know v2: %v", err)
	}
}

func TestTokenIssuer_RSA(t *testing.T) {
	ring, err := newTestRSAKeyring()
	if err != nil {
		t.Fatalf("newTestRSAKeyring: %v", err)
	}
	if ring.Active().Method.Alg() != "RS256" {
		t.Fatalf("alg = %s, want RS256", ring.Active().Method.Alg())
	}
	p := NewTokenIssuer(ring, "iss", "aud", time.Minute, 0)
	token, _, err := p.IssueAccess(Principal{UserID: "u1", Role: "admin"})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	claims, err := p.VerifyAccess(token)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.Role != "admin" {
		t.Errorf("role = %q", claims.Role)
	}
}

func TestKeyring_Validation(t *testing.T) {
	if _, err := NewHMACKey("v1", "short"); err == nil {
		t.Error("short secret should be rejected")
	}
	if _, err := NewHMACKey("", testHMACSecret); err == nil {
		t.Error("empty kid should be rejected")
	}
	k, _ := NewHMACKey("v1", testHMACSecret)
	if _, err := NewKeyring(k, k); err == nil {
		t.Error("duplicate kid should be rejected")
	}
	verifyOnly := k
	verifyOnly.signKey = nil
	if _, err := NewKeyring(verifyOnly); err == nil {
		t.Error("verify-only active key should be rejected")
	}
	if _, err := LoadKeyring(KeyringOptions{KeyID: "v1"}); err == nil {
		t.Error("LoadKeyring without material should fail")
	}
	ring, _ := NewKeyring(k)
	if _, err := ring.Lookup("missing"); err != ErrUnknownKey {
		t.Errorf("Lookup err = %v, want ErrUnknownKey", err)
	}
}
