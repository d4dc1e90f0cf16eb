package rest

// Config configures the HTTP API server.
type Config struct {
	// Addr is the host:port the server listens on.
	Addr string
	// AllowRemote, when false (the default), rejects requests from anything but a loopback
	// client; when true it widens the surface to any client, gated instead by CORSOrigins for
	// browser callers.
	AllowRemote bool
	// CORSOrigins is the set of origins allowed to make cross-origin requests. Empty allows none.
	CORSOrigins []string
}
