package version

// Set at build time with -ldflags "-X github.com/baptistax/ice-probe/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)
