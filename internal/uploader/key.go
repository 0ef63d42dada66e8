package uploader

import "strings"

// JoinKey builds the remote object key for a local path. A prefix ending in
// "/" is used as is; any other non-empty prefix gets a "/" appended. Leading
// slashes are trimmed from the path so "/logs/" and "topic/p0/f.log" give
// "/logs/topic/p0/f.log".
func JoinKey(prefix, localPath string) string {
	path := strings.TrimLeft(localPath, "/")
	if prefix == "" {
		return path
	}
	if strings.HasSuffix(prefix, "/") {
		return prefix + path
	}
	return prefix + "/" + path
}
