package version

var VERSION = "0.4.1"

// REVISION is set by the release workflow to the git sha the binary was built from.
var REVISION = "unknown"
