package models

// BuildInfo is stamped at link time through -ldflags.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// SnapshotInfo describes one schedule snapshot as seen by the running process.
type SnapshotInfo struct {
	Family          string `json:"family"`
	Available       bool   `json:"available"`
	ServiceDateFrom string `json:"serviceDateFrom,omitempty"`
	ServiceDateTo   string `json:"serviceDateTo,omitempty"`
}

type ConfigModel struct {
	Build     BuildInfo      `json:"build"`
	TimeZone  string         `json:"timeZone"`
	Modes     []Mode         `json:"modes"`
	Snapshots []SnapshotInfo `json:"snapshots"`
}
