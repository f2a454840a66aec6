// Package configs provides embedded configuration templates for recyclix.
//
// The templates are embedded at build time so `recyclix config init` works
// from any binary, not only from a source checkout.
package configs

import _ "embed"

// ProjectConfigTemplate is the commented template written to .recyclix.yaml
// by `recyclix config init`. It lists every key with its default value.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
