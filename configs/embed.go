// Package configs provides embedded configuration templates for amanrag.
//
// Templates are embedded at build time so `amanrag config init` works from
// any install. Every active key in a template carries the value NewConfig
// uses, so an untouched template changes nothing.
package configs

import _ "embed"

// UserConfigTemplate is written by `amanrag config init` to
// $XDG_CONFIG_HOME/amanrag/config.yaml: model endpoints, resilience, logging.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is written by `amanrag config init --project` to
// .amanrag.yaml: retrieval defaults and storage for one knowledge base.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
