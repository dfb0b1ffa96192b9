package handlers

import (
	"net/http"
	"runtime"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/crucible"
)

// buildMeta is set once at startup and read by /version.
var buildMeta = struct {
	version  string
	commit   string
	date     string
	identity *appidentity.Identity
	service  ServiceInfo
}{version: "dev", commit: "unknown", date: "unknown"}

// SetVersionInfo records the values injected at link time.
func SetVersionInfo(version, commit, buildDate string) {
	buildMeta.version = version
	buildMeta.commit = commit
	buildMeta.date = buildDate
}

func SetAppIdentity(identity *appidentity.Identity) {
	buildMeta.identity = identity
}

// SetServiceInfo records which backends the running server was built with.
func SetServiceInfo(info ServiceInfo) {
	buildMeta.service = info
}

// ServiceInfo describes the admission backends in use.
type ServiceInfo struct {
	LimiterBackend string `json:"limiter_backend,omitempty"`
	StoreBackend   string `json:"store_backend,omitempty"`
	Timezone       string `json:"quota_timezone,omitempty"`
}

// VersionResponse is the /version body.
type VersionResponse struct {
	Name      string      `json:"name"`
	Version   string      `json:"version"`
	Commit    string      `json:"git_commit"`
	BuildDate string      `json:"build_date"`
	GoVersion string      `json:"go_version"`
	Platform  string      `json:"platform"`
	Gofulmen  string      `json:"gofulmen"`
	Crucible  string      `json:"crucible"`
	Service   ServiceInfo `json:"service"`
}

func VersionHandler(w http.ResponseWriter, r *http.Request) {
	name := "threadgate"
	if id := buildMeta.identity; id != nil && id.BinaryName != "" {
		name = id.BinaryName
	}
	ssot := crucible.GetVersion()

	writeJSON(w, http.StatusOK, VersionResponse{
		Name:      name,
		Version:   buildMeta.version,
		Commit:    buildMeta.commit,
		BuildDate: buildMeta.date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Gofulmen:  ssot.Gofulmen,
		Crucible:  ssot.Crucible,
		Service:   buildMeta.service,
	})
}
