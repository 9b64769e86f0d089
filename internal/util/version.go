package util

// Version is set at build time with -ldflags "-X ...util.Version=..."
var Version = "v0.1.0-dev"
