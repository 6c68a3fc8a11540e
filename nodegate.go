package nodegate

const (
	Version    = "0.2.0"
	VersionStr = "nodegate " + Version
)
