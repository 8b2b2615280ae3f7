package wire

import (
	"log/slog"

	"github.com/relaydb/wire/auth"
	"github.com/relaydb/wire/backend"
	"github.com/relaydb/wire/compiler"
)

// OptionFn configures a Server.
type OptionFn func(*Server) error

// WithLogger overrides the server's structured logger (default: slog.Default()).
func WithLogger(logger *slog.Logger) OptionFn {
	return func(srv *Server) error {
		srv.logger = logger
		return nil
	}
}

// WithBufferedMsgSize overrides the per-connection read buffer size and
// maximum message size.
func WithBufferedMsgSize(size int) OptionFn {
	return func(srv *Server) error {
		srv.BufferedMsgSize = size
		return nil
	}
}

// WithRoles replaces the server's role store and rebuilds Auth as Trust
// over it, unless a later WithAuth option overrides Auth explicitly.
func WithRoles(roles *StaticRoles) OptionFn {
	return func(srv *Server) error {
		srv.Roles = roles
		srv.Auth = auth.Trust(roles)
		return nil
	}
}

// WithTrustAuth selects Trust authentication, the default.
func WithTrustAuth() OptionFn {
	return func(srv *Server) error {
		srv.Auth = auth.Trust(srv.Roles)
		return nil
	}
}

// WithSCRAMAuth selects SCRAM-SHA-256 authentication.
func WithSCRAMAuth() OptionFn {
	return func(srv *Server) error {
		srv.Auth = auth.SCRAMSHA256(srv.Roles)
		return nil
	}
}

// WithBearerAuth selects bearer-token authentication.
func WithBearerAuth(keys auth.BearerKeys) OptionFn {
	return func(srv *Server) error {
		srv.Auth = auth.Bearer(srv.Roles, keys)
		return nil
	}
}

// WithAuth sets an arbitrary auth.Strategy, bypassing the Roles-backed
// defaults entirely.
func WithAuth(strategy auth.Strategy) OptionFn {
	return func(srv *Server) error {
		srv.Auth = strategy
		return nil
	}
}

// WithNewView overrides how a session.View is constructed once a
// connection authenticates (default: an in-memory session.State).
func WithNewView(fn NewViewFn) OptionFn {
	return func(srv *Server) error {
		srv.NewView = fn
		return nil
	}
}

// WithBackend sets the backend connection pool Execute/Dump/Restore pin
// leases against. Required for any connection that issues
// Execute, Dump, or Restore.
func WithBackend(pool backend.Pool) OptionFn {
	return func(srv *Server) error {
		srv.Backend = pool
		return nil
	}
}

// WithCompiler sets the query/schema compiler collaborator: compilation
// is never performed in-process.
func WithCompiler(c compiler.Compiler) OptionFn {
	return func(srv *Server) error {
		srv.Compiler = c
		return nil
	}
}

// WithVersion sets the server_version string reported in ServerStatus and
// embedded in dump headers.
func WithVersion(version string) OptionFn {
	return func(srv *Server) error {
		srv.Version = version
		return nil
	}
}

// WithCatalogVersion sets the catalog version embedded in dump headers.
func WithCatalogVersion(v uint64) OptionFn {
	return func(srv *Server) error {
		srv.CatalogVersion = v
		return nil
	}
}

// WithIncludeSecrets toggles whether dump includes secret-bearing schema
// objects.
func WithIncludeSecrets(include bool) OptionFn {
	return func(srv *Server) error {
		srv.IncludeSecrets = include
		return nil
	}
}
