package version

// Build information set by ldflags
var (
	Version = "dev"     // -X github.com/Chrono-byte/flux/internal/version.Version={{.Version}}
	Commit  = "unknown" // -X github.com/Chrono-byte/flux/internal/version.Commit={{.Commit}}
	Date    = "unknown" // -X github.com/Chrono-byte/flux/internal/version.Date={{.Date}}
)
