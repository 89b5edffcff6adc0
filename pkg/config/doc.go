// Package config loads flux's own settings and the declared state kept in
// the dotfiles repository.
//
// Settings are layered with koanf, later sources overriding earlier ones:
//
//  1. embedded/defaults.toml
//  2. the user config file ($FLUX_CONFIG, else $XDG_CONFIG_HOME/flux/config.toml)
//  3. FLUX_* environment variables, e.g. FLUX_PACKAGE_BACKEND=direct
//  4. overrides passed by the caller, normally CLI flags
//
// The declared state lives in flux.toml at the root of the repository and
// is decoded strictly: unknown keys are an error rather than silently
// ignored, since a typo there would otherwise drop a package or file from
// management without notice.
package config
