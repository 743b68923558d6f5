// Package db embeds the storefront schema applied at startup.
package db

import _ "embed"

// Schema holds the DDL for every table the service touches. The script is
// idempotent, so applying it on boot is safe.
//
//go:embed migrations/001_schema.sql
var Schema string
