package version

var (
	// Version is the semantic version of stakemon. Set with -ldflags at build time.
	Version = "dev"
	// Commit is the git revision the binary was built from.
	Commit = "unknown"
	// BuildDate is when the binary was built.
	BuildDate = "unknown"
)
