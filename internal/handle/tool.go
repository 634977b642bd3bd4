// Package handle provisions Sysinternals handle.exe, the tool used after a
// build to find processes that still hold files in the checkout directory.
//
// There is exactly one supported version. Installed packages are recognised
// by name only: a directory named "handle" or a file named "handle.exe".
package handle

const (
	// ToolName is the canonical directory name of an installed package.
	ToolName = "handle"
	// ExecutableName is the canonical on-disk name of the tool.
	ExecutableName = "handle.exe"
	// DisplayName is used in messages shown to administrators.
	DisplayName = "Sysinternals handle.exe"
	// DownloadURL is where the tool is fetched from.
	DownloadURL = "https://live.sysinternals.com/handle.exe"
)

// ToolType is the static descriptor of the tool.
type ToolType struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	DownloadURL string `json:"download_url"`
}

// Type describes handle.exe.
var Type = ToolType{
	Key:         ToolName,
	DisplayName: DisplayName,
	Description: "Detects processes holding files in the build checkout directory",
	DownloadURL: DownloadURL,
}

// Version identifies one release of the tool.
type Version struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

// ID is the key installed instances are stored and looked up under.
func (v Version) ID() string { return v.Type + "." + v.Version }

// SingleVersion is the only version ever offered; the download URL always
// serves the latest release.
var SingleVersion = Version{Type: ToolName, Version: "latest"}
