package ipc

import "github.com/driftbg/driftbg/internal/cache"

type CommandType string

const (
	CommandStop CommandType = "stop"
	CommandNext CommandType = "next"
)

type Command struct {
	Type CommandType `json:"type"`
	// Output restricts the command to one output name; empty means all.
	Output string `json:"output,omitempty"`
}

// WallpaperStatus describes one wallpaper in the status response.
type WallpaperStatus struct {
	Output  string   `json:"output"`
	Source  string   `json:"source"`
	Loading string   `json:"loading"`
	Current string   `json:"current,omitempty"`
	Layers  []string `json:"layers"`
}

// Status is the full daemon status.
type Status struct {
	Status     string            `json:"status"`
	Message    string            `json:"message"`
	Version    string            `json:"version"`
	PID        int               `json:"pid"`
	Socket     string            `json:"socket"`
	Config     string            `json:"config"`
	Wallpapers []WallpaperStatus `json:"wallpapers"`
	Cache      cache.Stats       `json:"cache"`
}

// Manager is what the daemon core exposes to the control socket.
type Manager interface {
	Status() Status
	EnqueueCommand(Command)
}

type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}
