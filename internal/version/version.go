package version

// Version is the snaptalks build version, stamped at release time with:
//
//	go build -ldflags="-X 'github.com/hari1098/snaptalks/internal/version.Version=v0.3.0'"
var Version = "dev"

// UserAgent identifies this client to the relay.
func UserAgent() string {
	return "snaptalks/" + Version
}
