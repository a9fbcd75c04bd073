package driftbg

import _ "embed"

// Version is stamped from the VERSION file at build time.
//
//go:embed VERSION
var Version string
