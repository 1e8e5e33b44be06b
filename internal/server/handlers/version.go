package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/fulmenhq/gofulmen/crucible"
)

// Build metadata injected from main.
var (
	AppVersion   = "dev"
	AppCommit    = "unknown"
	AppBuildDate = "unknown"
	appName      string
)

var (
	serviceMu   sync.RWMutex
	serviceInfo *ServiceInfo
)

// SetVersionInfo records build metadata reported by /version.
func SetVersionInfo(version, commit, buildDate string) {
	AppVersion = version
	AppCommit = commit
	AppBuildDate = buildDate
}

// SetAppName overrides the executable name reported by /version.
func SetAppName(name string) {
	appName = name
}

// SetServiceInfo records what the running limiter was built with. Scopes are
// reported sorted.
func SetServiceInfo(storeDriver string, scopes []string) {
	sorted := append([]string(nil), scopes...)
	sort.Strings(sorted)

	serviceMu.Lock()
	defer serviceMu.Unlock()
	serviceInfo = &ServiceInfo{StoreDriver: storeDriver, Scopes: sorted}
}

type VersionResponse struct {
	App          AppInfo      `json:"app"`
	Service      *ServiceInfo `json:"service,omitempty"`
	Dependencies DepInfo      `json:"dependencies"`
	Runtime      RuntimeInfo  `json:"runtime"`
}

type AppInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// ServiceInfo is only present when the process is serving.
type ServiceInfo struct {
	StoreDriver string   `json:"store_driver"`
	Scopes      []string `json:"scopes"`
}

type DepInfo struct {
	Gofulmen string `json:"gofulmen"`
	Crucible string `json:"crucible"`
}

type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

func resolvedAppName() string {
	if appName != "" {
		return appName
	}
	if len(os.Args) > 0 && os.Args[0] != "" {
		return filepath.Base(os.Args[0])
	}
	return "unknown"
}

// CurrentVersion assembles the version document served at /version and
// printed by `version --json`.
func CurrentVersion() VersionResponse {
	deps := crucible.GetVersion()

	serviceMu.RLock()
	service := serviceInfo
	serviceMu.RUnlock()

	return VersionResponse{
		App: AppInfo{
			Name:      resolvedAppName(),
			Version:   AppVersion,
			Commit:    AppCommit,
			BuildDate: AppBuildDate,
			GoVersion: runtime.Version(),
		},
		Service:      service,
		Dependencies: DepInfo{Gofulmen: deps.Gofulmen, Crucible: deps.Crucible},
		Runtime: RuntimeInfo{
			Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:        runtime.NumCPU(),
			NumGoroutines: runtime.NumGoroutine(),
		},
	}
}

func VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CurrentVersion())
}
