// Package configs embeds the configuration templates written by
// `newsline config init`.
//
// Templates are embedded at build time so they ship with every binary.
//
//   - user-config.example.yaml: machine settings (Ollama host, models, Redis, Milvus)
//   - project-config.example.yaml: per-corpus tuning (fusion weights, temporal decay, timeline thresholds)
//
// Precedence is documented on config.Load: defaults, user file, project
// file, then NEWSLINE_* environment variables.
package configs

import _ "embed"

// UserConfigTemplate is written to $XDG_CONFIG_HOME/newsline/config.yaml.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is written to .newsline.yaml in the project root.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
