package build

// Version is the current version of the application. It follows semver,
// and is set at build time through linker flags.
var Version = "0.1.0-dev"
