// Package application holds application-wide identity constants.
package application

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// AppName is the application name used for directories and identification
	AppName = "starkeep"

	// Version is the application version
	Version = "0.3.0"
)

var (
	once   sync.Once
	appDir string
	errDir error
)

// GetApplicationDirectory returns the starkeep configuration directory path.
// Linux: ~/.config/starkeep (via os.UserConfigDir)
// Windows: C:\Users\{username}\AppData\Local\starkeep (via os.UserCacheDir)
func GetApplicationDirectory() (string, error) {
	once.Do(lazyLoad)

	if errDir != nil {
		return "", errDir
	}

	return appDir, errDir
}

func lazyLoad() {
	var (
		baseDir string
		err     error
	)

	switch runtime.GOOS {
	case "windows":
		baseDir, err = os.UserCacheDir()
	default:
		baseDir, err = os.UserConfigDir()
	}

	if err != nil {
		errDir = fmt.Errorf("failed to get config directory: %w", err)
	}

	appDir = filepath.Join(baseDir, AppName)
}
