package utils

import (
	"os"
	"path/filepath"
	"runtime"
)

const AppName = "dht-get-peers"

type AppPaths struct {
	ConfigDir string
	LogDir    string
}

func GetAppPaths(appName string) *AppPaths {
	if appName == "" {
		appName = AppName
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		if homeDir, err = os.Getwd(); err != nil {
			homeDir = "."
		}
	}

	paths := &AppPaths{}

	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		paths.ConfigDir = filepath.Join(appData, appName)
		paths.LogDir = paths.ConfigDir

	case "darwin":
		paths.ConfigDir = filepath.Join(homeDir, "Library", "Application Support", appName)
		paths.LogDir = filepath.Join(homeDir, "Library", "Logs", appName)

	case "linux":
		// XDG Base Directory Specification
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			configHome = filepath.Join(homeDir, ".config")
		}
		cacheHome := os.Getenv("XDG_CACHE_HOME")
		if cacheHome == "" {
			cacheHome = filepath.Join(homeDir, ".cache")
		}
		paths.ConfigDir = filepath.Join(configHome, appName)
		paths.LogDir = filepath.Join(cacheHome, appName, "logs")

	default:
		paths.ConfigDir = filepath.Join(homeDir, "."+appName)
		paths.LogDir = paths.ConfigDir
	}

	for _, dir := range []string{paths.ConfigDir, paths.LogDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			paths.ConfigDir = "."
			paths.LogDir = "."
			break
		}
	}

	return paths
}

// GetConfigPath returns the path to a config file
func (ap *AppPaths) GetConfigPath(filename string) string {
	return filepath.Join(ap.ConfigDir, filename)
}

// GetLogPath returns the path to a log file
func (ap *AppPaths) GetLogPath(filename string) string {
	return filepath.Join(ap.LogDir, filename)
}
