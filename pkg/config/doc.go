// Package config loads, validates and builds fsradar configuration.
//
// Configuration is read from YAML (validated against a JSON schema generated
// from the Go types) or from the TOML layout used by earlier fs_radar
// releases. Each configured group is turned into a [group.Group] by
// [Group.Build].
package config
