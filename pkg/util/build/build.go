// Package build formats build-time metadata for depcheck's --version and
// --version-json output. The metadata itself lives in
// github.com/prometheus/common/version, the same package profilecli
// stamps via -ldflags, so both binaries can be built from one release
// pipeline that sets -X github.com/prometheus/common/version.Version=...
// and friends.
package build

import (
	"encoding/json"
	"strconv"

	"github.com/prometheus/common/version"
)

// GitDirtyStr is set via -ldflags to "0" or "1"; depcheck tracks this
// separately from version.Revision because prometheus/common/version has
// no field for an uncommitted-changes flag.
var GitDirtyStr = "-1"

func gitDirty() (int, bool) {
	d, err := strconv.Atoi(GitDirtyStr)
	if err != nil {
		return 0, false
	}
	return d, true
}

// Summary renders the human-readable report shown by `depcheck --version`.
func Summary() string {
	out := version.Print("depcheck")
	if d, ok := gitDirty(); ok {
		state := "clean"
		if d != 0 {
			state = "dirty"
		}
		out += "\n  git tree:  " + state
	}
	return out
}

type buildInfoJSON struct {
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	Branch    string `json:"branch"`
	BuildUser string `json:"buildUser"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	GoOS      string `json:"goos"`
	GoArch    string `json:"goarch"`
	GitDirty  int    `json:"gitDirty"`
}

func toJSONString(pretty bool) string {
	dirty, _ := gitDirty()
	info := buildInfoJSON{
		Version:   version.Version,
		Revision:  version.Revision,
		Branch:    version.Branch,
		BuildUser: version.BuildUser,
		BuildDate: version.BuildDate,
		GoVersion: version.GoVersion,
		GoOS:      version.GoOS,
		GoArch:    version.GoArch,
		GitDirty:  dirty,
	}
	var b []byte
	if pretty {
		b, _ = json.MarshalIndent(info, "", "  ")
	} else {
		b, _ = json.Marshal(info)
	}
	return string(b)
}

// JSON renders build info as a single-line JSON document.
func JSON() string { return toJSONString(false) }

// PrettyJSON renders the same information as an indented JSON document,
// used by depcheck's --version-json flag.
func PrettyJSON() string { return toJSONString(true) }
