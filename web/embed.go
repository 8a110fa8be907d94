package webassets

import "embed"

// FS contains the embedded HTML page templates from this directory.
//
//go:embed *.html
var FS embed.FS
