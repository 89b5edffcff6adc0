package diff

import (
	"github.com/Chrono-byte/flux/pkg/filesystem"
	"github.com/Chrono-byte/flux/pkg/packages"
	"github.com/Chrono-byte/flux/pkg/services"
)

// Backends bundles the three capability implementations. Packages and
// Services may be nil when no backend could be selected.
type Backends struct {
	Packages packages.Manager
	Services services.Manager
	Files    filesystem.Manager
}
