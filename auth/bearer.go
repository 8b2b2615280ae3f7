package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/json"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/relaydb/wire/frame"
)

// claimsNamespace prefixes the role claims a bearer token carries:
// "<ns>.any_role" and "<ns>.roles".
const claimsNamespace = "relaydb"

// BearerKeys holds the server's decryption/verification key pair for
// bearer tokens: a JWE encryption key and a JWS signing key.
type BearerKeys struct {
	DecryptionKey any // *rsa.PrivateKey or *ecdsa.PrivateKey
	VerifyKey     any // *rsa.PublicKey or *ecdsa.PublicKey
}

type bearerClaims struct {
	AnyRole bool              `json:"relaydb.any_role"`
	Roles   map[string]string `json:"relaydb.roles"`
}

// Bearer implements bearer-token authentication: the token is a
// JWE-wrapped JWS. It is decrypted with the server's JWE key, the inner
// JWS is verified with the server's JWS key, and the claims are checked
// against roles. Built on github.com/go-jose/go-jose/v4.
func Bearer(roles Roles, keys BearerKeys) Strategy {
	return func(ctx context.Context, username string, reader *frame.Reader, writer *frame.Writer) error {
		token, err := readBearerToken(reader)
		if err != nil {
			return err
		}

		claims, ok := validateBearerToken(token, keys)
		if !ok {
			return authFailure()
		}

		if claims.AnyRole {
			if _, exists := roles.Lookup(ctx, username); !exists {
				return authFailure()
			}
			return writeAuthOK(writer)
		}

		tokenPassword, ok := claims.Roles[username]
		if !ok {
			return authFailure()
		}

		creds, exists := roles.Lookup(ctx, username)
		if !exists || creds.Password == "" || tokenPassword != creds.Password {
			return authFailure()
		}

		return writeAuthOK(writer)
	}
}

func readBearerToken(reader *frame.Reader) (string, error) {
	length, err := reader.GetInt32()
	if err != nil {
		return "", err
	}

	raw, err := reader.GetBytes(int(length))
	if err != nil {
		return "", err
	}

	return string(raw), nil
}

// validateBearerToken decrypts the JWE envelope, verifies the inner JWS,
// and unmarshals the claims. Any failure returns ok=false without
// distinguishing which step failed, so the caller never leaks which
// step failed.
func validateBearerToken(token string, keys BearerKeys) (bearerClaims, bool) {
	jwe, err := jose.ParseEncrypted(token, []jose.KeyAlgorithm{
		jose.RSA_OAEP, jose.RSA_OAEP_256, jose.ECDH_ES, jose.ECDH_ES_A256KW,
	}, []jose.ContentEncryption{jose.A256GCM, jose.A128GCM})
	if err != nil {
		return bearerClaims{}, false
	}

	signed, err := jwe.Decrypt(keys.DecryptionKey)
	if err != nil {
		return bearerClaims{}, false
	}

	jws, err := jose.ParseSigned(string(signed), signatureAlgorithms(keys.VerifyKey))
	if err != nil {
		return bearerClaims{}, false
	}

	payload, err := jws.Verify(keys.VerifyKey)
	if err != nil {
		return bearerClaims{}, false
	}

	var claims bearerClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return bearerClaims{}, false
	}

	return claims, true
}

func signatureAlgorithms(key any) []jose.SignatureAlgorithm {
	switch key.(type) {
	case *ecdsa.PublicKey:
		return []jose.SignatureAlgorithm{jose.ES256, jose.ES384, jose.ES512}
	case *rsa.PublicKey:
		return []jose.SignatureAlgorithm{jose.RS256, jose.PS256}
	default:
		return []jose.SignatureAlgorithm{jose.RS256, jose.ES256, jose.PS256}
	}
}
