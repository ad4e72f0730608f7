// Package common holds process-wide helpers shared by the binaries.
package common

// Version is set at build time with -ldflags "-X github.com/ruteri/config-service/common.Version=..."
var Version = "dev"

const PackageName = "github.com/ruteri/config-service"
