// Package layoutassets mirrors the repository's config/ and schemas/ trees so
// a standalone binary can load its defaults and validate against its schema.
package layoutassets

import "embed"

// FS holds config/threadgate/v0/threadgate-defaults.yaml and
// schemas/threadgate/v0/config.schema.json, rooted as in the repository.
//
//go:embed config schemas
var FS embed.FS
