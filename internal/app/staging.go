package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"qr-pass/go-backend/internal/securestore"
)

const (
	responseFileName = "response.json"
	stagingDirLayout = "01022006-150405"
	maxStagingSuffix = 1000
)

var (
	ErrStagingDirRequired = errors.New("messages directory is required")
	ErrStaging            = errors.New("response staging failed")
)

// WriteResponse stages payload as <messagesDir>/<MMDDYYYY-HHMMSS>/response.json
// for the rendering step. Two responses in the same second get -2, -3, ...
func WriteResponse(messagesDir string, at time.Time, payload []byte) (string, error) {
	messagesDir = strings.TrimSpace(messagesDir)
	if messagesDir == "" {
		return "", ErrStagingDirRequired
	}
	if err := os.MkdirAll(messagesDir, 0o700); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStaging, err)
	}
	base := filepath.Join(messagesDir, at.UTC().Format(stagingDirLayout))
	for i := 1; i <= maxStagingSuffix; i++ {
		dir := base
		if i > 1 {
			dir = base + "-" + strconv.Itoa(i)
		}
		err := os.Mkdir(dir, 0o700)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrStaging, err)
		}
		path := filepath.Join(dir, responseFileName)
		if err := securestore.WriteFileAtomic(path, payload, 0o644); err != nil {
			_ = os.RemoveAll(dir)
			return "", fmt.Errorf("%w: %v", ErrStaging, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("%w: no free directory for %s", ErrStaging, base)
}

// discardResponse removes a staged response and its timestamp directory.
func discardResponse(path string) {
	_ = os.RemoveAll(filepath.Dir(path))
}
