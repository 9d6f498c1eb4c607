package helper

import (
	"os"
	"path/filepath"
)

// ConfigDirEnv names a directory searched before the working directory.
const ConfigDirEnv = "RIDERWATCH_CONFIG_DIR"

const systemConfigDir = "/etc/riderwatch"

// GetCfgPath resolves a config filename. Absolute paths are returned as-is;
// otherwise $RIDERWATCH_CONFIG_DIR, ./ and ./configs are searched in order and
// the first existing file wins. When nothing matches the path under
// /etc/riderwatch is returned so the caller's read reports a useful error.
func GetCfgPath(filename string) string {
	if filename == "" || filepath.IsAbs(filename) {
		return filename
	}

	for _, dir := range searchDirs() {
		p := filepath.Join(dir, filename)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return filepath.Join(systemConfigDir, filename)
}

func searchDirs() []string {
	var dirs []string
	if d := os.Getenv(ConfigDirEnv); d != "" {
		dirs = append(dirs, d)
	}
	if wd, err := os.Getwd(); err == nil && wd != "" {
		dirs = append(dirs, wd, filepath.Join(wd, "configs"))
	}
	return dirs
}
