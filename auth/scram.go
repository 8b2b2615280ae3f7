package auth

import (
	"context"
	"crypto/sha256"

	"github.com/xdg/scram"

	"github.com/relaydb/wire/errors"
	"github.com/relaydb/wire/frame"
	"github.com/relaydb/wire/protocol"
)

const scramMechanism = "SCRAM-SHA-256"

// mockVerifierSeed is mixed into the mock-verifier derivation: a mock
// verifier is synthesized from sha256(server-nonce-seed || user). A real
// deployment would derive this from a per-server secret; a fixed value
// here keeps the default strategy deterministic across restarts for test
// fixtures, and is documented as an Open Question resolution in
// DESIGN.md.
var mockVerifierSeed = []byte("relaydb-wire-mock-verifier-seed")

// SCRAMSHA256 implements the SCRAM-SHA-256 exchange, built on
// github.com/xdg/scram's scram.Server conversation driver so the
// RFC 5802 message parsing/building itself is not reimplemented.
func SCRAMSHA256(roles Roles) Strategy {
	return func(ctx context.Context, username string, reader *frame.Reader, writer *frame.Writer) error {
		if err := writeSASLInitial(writer); err != nil {
			return err
		}

		tag, _, err := reader.ReadTypedMsg()
		if err != nil {
			return err
		}
		if tag != protocol.ClientSASLInitial {
			return errors.WithKind(errors.New("expected SASL initial response"), errors.KindProtocol)
		}

		mechanism, err := reader.GetString()
		if err != nil {
			return err
		}
		if mechanism != scramMechanism {
			return errors.WithKind(errors.New("unsupported SASL mechanism"), errors.KindProtocol)
		}

		initialLen, err := reader.GetInt32()
		if err != nil {
			return err
		}
		clientFirst, err := reader.GetBytes(int(initialLen))
		if err != nil {
			return err
		}
		if len(clientFirst) == 0 {
			return errors.WithKind(errors.New("empty client-first-message"), errors.KindProtocol)
		}

		credLookup := func(user string) (scram.StoredCredentials, error) {
			creds, ok := roles.Lookup(ctx, user)
			if !ok {
				return mockStoredCredentials(user), nil
			}

			return scram.StoredCredentials{
				KeyFactors: scram.KeyFactors{
					Salt:  string(creds.SCRAMSalt),
					Iters: creds.SCRAMIterations,
				},
				StoredKey: creds.SCRAMStoredKey,
				ServerKey: creds.SCRAMServerKey,
			}, nil
		}

		_, isReal := roles.Lookup(ctx, username)

		server, err := scram.SHA256.NewServer(credLookup)
		if err != nil {
			return errors.WithKind(err, errors.KindAuthentication)
		}

		conv := server.NewConversation()

		serverFirst, err := conv.Step(string(clientFirst))
		if err != nil {
			return authFailure()
		}

		if err := writeSASLContinue(writer, serverFirst); err != nil {
			return err
		}

		tag, _, err = reader.ReadTypedMsg()
		if err != nil {
			return err
		}
		if tag != protocol.ClientSASLResponse {
			return errors.WithKind(errors.New("expected SASL response"), errors.KindProtocol)
		}

		clientFinal, err := reader.GetString()
		if err != nil {
			return err
		}

		serverFinal, err := conv.Step(clientFinal)
		if err != nil || !isReal {
			// A mock-verifier conversation must fail regardless of what
			// the client sent.
			return authFailure()
		}

		if err := writeSASLFinal(writer, serverFinal); err != nil {
			return err
		}

		return writeAuthOK(writer)
	}
}

// mockStoredCredentials derives a deterministic-but-unusable verifier for
// an unknown user, so authentication failure is indistinguishable in
// shape/timing from a known user with the wrong password.
func mockStoredCredentials(username string) scram.StoredCredentials {
	h := sha256.New()
	h.Write(mockVerifierSeed)
	h.Write([]byte(username))
	digest := h.Sum(nil)

	kf := scram.KeyFactors{Salt: string(digest[:16]), Iters: 4096}
	return scram.StoredCredentials{
		KeyFactors: kf,
		StoredKey:  digest[16:],
		ServerKey:  digest,
	}
}

func writeSASLInitial(writer *frame.Writer) error {
	writer.Start(protocol.ServerAuthentication)
	writer.AddUint32(protocol.AuthSASLInitial)
	writer.AddLenString(scramMechanism)
	writer.AddByte(0)
	if err := writer.End(); err != nil {
		return err
	}
	return writer.Flush()
}

func writeSASLContinue(writer *frame.Writer, payload string) error {
	writer.Start(protocol.ServerAuthentication)
	writer.AddUint32(protocol.AuthSASLContinue)
	writer.AddString(payload)
	if err := writer.End(); err != nil {
		return err
	}
	return writer.Flush()
}

func writeSASLFinal(writer *frame.Writer, payload string) error {
	writer.Start(protocol.ServerAuthentication)
	writer.AddUint32(protocol.AuthSASLFinal)
	writer.AddString(payload)
	if err := writer.End(); err != nil {
		return err
	}
	return writer.Flush()
}
