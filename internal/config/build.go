package config

// Set at build time, for example:
//
//	go build -ldflags "-X github.com/i474232898/cvc-collector/internal/config.version=1.2.0"
var version = "dev"

// Version returns the linker-injected version string.
func Version() string {
	return version
}

// UserAgent is sent with every upstream request.
func UserAgent() string {
	return "cvc-collector/" + version
}
