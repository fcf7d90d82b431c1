// Package mcpserver exposes the paper library to MCP clients.
package mcpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sells-group/paper-cli/internal/library"
	"github.com/sells-group/paper-cli/internal/verify"
)

// Version is reported to MCP clients during initialization.
const Version = "0.1.0"

// MaxReadChars caps the text returned by read_paper.
const MaxReadChars = 100000

const truncatedMarker = "\n\n[TRUNCATED - paper is very long]"

// ErrMissingLibrary is returned when the server is built without a library.
var ErrMissingLibrary = errors.New("mcpserver: library is required")

// Server serves the paper tools over MCP.
type Server struct {
	lib      *library.Library
	verifier *verify.Engine
	server   *mcp.Server
}

// New creates a Server. verifier may be nil, in which case verify_claim
// reports that verification is unavailable.
func New(lib *library.Library, verifier *verify.Engine) (*Server, error) {
	if lib == nil {
		return nil, ErrMissingLibrary
	}
	s := &Server{
		lib:      lib,
		verifier: verifier,
		server:   mcp.NewServer(&mcp.Implementation{Name: "paper-cli", Version: Version}, nil),
	}
	s.registerTools()
	s.registerResources()
	return s, nil
}

// Run serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the streamable HTTP transport on addr.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background()) //nolint:errcheck
	}()

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
