// Package auth implements the three authentication methods the engine
// recognizes: Trust, SCRAM-SHA-256, and bearer token.
package auth

import (
	"context"

	"github.com/relaydb/wire/codes"
	"github.com/relaydb/wire/errors"
	"github.com/relaydb/wire/frame"
	"github.com/relaydb/wire/protocol"
)

// Roles is the external role store: username to stored password/verifier
// material. It is a collaborator, not owned by this package.
type Roles interface {
	// Lookup returns the role's stored SCRAM verifier material, or ok=false
	// if the user does not exist.
	Lookup(ctx context.Context, username string) (RoleCredentials, bool)
}

// RoleCredentials is the server-side credential record for one role.
type RoleCredentials struct {
	// Password, when set, is consulted by bearer-token validation.
	Password string

	// SCRAMSalt, SCRAMIterations, SCRAMStoredKey, SCRAMServerKey are the
	// RFC 5802 verifier components for the SCRAM-SHA-256 strategy.
	SCRAMSalt       []byte
	SCRAMIterations int
	SCRAMStoredKey  []byte
	SCRAMServerKey  []byte
}

// Strategy authenticates the connection identified by username, reading
// and writing whatever additional protocol messages its method requires.
type Strategy func(ctx context.Context, username string, reader *frame.Reader, writer *frame.Writer) error

// Trust accepts any username present in roles, with no challenge.
func Trust(roles Roles) Strategy {
	return func(ctx context.Context, username string, reader *frame.Reader, writer *frame.Writer) error {
		if _, ok := roles.Lookup(ctx, username); !ok {
			return authFailure()
		}

		return writeAuthOK(writer)
	}
}

func authFailure() error {
	return errors.WithKind(
		errors.WithCode(errors.New("authentication failed"), codes.AuthenticationError),
		errors.KindAuthentication,
	)
}

func writeAuthOK(writer *frame.Writer) error {
	writer.Start(protocol.ServerAuthentication)
	writer.AddUint32(protocol.AuthOK)
	if err := writer.End(); err != nil {
		return err
	}
	return writer.Flush()
}
