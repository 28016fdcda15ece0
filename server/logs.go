package server

import (
	"github.com/vsdock/vintagestory-server/config"
	"path/filepath"
)

// LogStream is one of the log files written by the server.
type LogStream string

const (
	AuditLog    LogStream = "audit"
	CrashLog    LogStream = "crash"
	MainLog     LogStream = "main"
	WorldgenLog LogStream = "worldgen"
	BuildLog    LogStream = "build"
	DebugLog    LogStream = "debug"
	ChatLog     LogStream = "chat"
)

// LogStreams is every log file the server writes, all of which are created
// before the server starts.
var LogStreams = []LogStream{AuditLog, CrashLog, MainLog, WorldgenLog, BuildLog, DebugLog, ChatLog}

// Filename returns the name of the file the server writes this stream to.
func (ls LogStream) Filename() string {
	return "server-" + string(ls) + ".log"
}

// Path returns the location of the stream inside of the data directory.
func (ls LogStream) Path(c *config.Configuration) string {
	return filepath.Join(c.LogsPath(), ls.Filename())
}

// Followed reports whether the stream is forwarded to the container output.
// The build and debug streams depend on the debug toggle and the chat stream
// on the chat toggle, everything else is always forwarded.
func (ls LogStream) Followed(l config.LoggingConfiguration) bool {
	switch ls {
	case BuildLog, DebugLog:
		return l.Debug
	case ChatLog:
		return l.Chat
	default:
		return true
	}
}

// FollowedStreams returns the streams that are forwarded for the given logging
// configuration.
func FollowedStreams(l config.LoggingConfiguration) []LogStream {
	var out []LogStream
	for _, ls := range LogStreams {
		if ls.Followed(l) {
			out = append(out, ls)
		}
	}
	return out
}
