package version

// Current defines the application version.
// It defaults to "dev" and is overwritten at build time with -ldflags "-X ...version.Current=v1.2.3".
var Current = "dev"

const AppName = "cloudblob"

// String renders the name and version for banners and user agents.
func String() string {
	return AppName + " " + Current
}
