// Package storage keeps uploaded lab reports on local disk or in an
// S3-compatible object store.
package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/biomarker-normalizer/internal/domain"
)

// DefaultExtension replaces an extension that is empty, too long or not
// plain ASCII letters and digits.
const DefaultExtension = "bin"

const maxExtensionLen = 16

// BuildPath returns the storage path of an upload: {userID}/{unixMillis}.{ext}.
// The extension is the text after the last dot of fileName, or the whole
// name when it has no dot, and falls back to DefaultExtension so it can
// never add path segments.
func BuildPath(userID, fileName string, now time.Time) string {
	ext := fileName
	if i := strings.LastIndex(fileName, "."); i >= 0 {
		ext = fileName[i+1:]
	}
	if !validExtension(ext) {
		ext = DefaultExtension
	}
	return userID + "/" + strconv.FormatInt(now.UnixMilli(), 10) + "." + ext
}

func validExtension(ext string) bool {
	if ext == "" || len(ext) > maxExtensionLen {
		return false
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// New builds the FileStorage selected by config
func New(config domain.StorageConfig, logger *logrus.Logger) (domain.FileStorage, error) {
	switch config.Backend {
	case domain.StorageBackendLocal, "":
		return NewLocalStorage(config.LocalDir, logger)
	case domain.StorageBackendMinIO:
		return NewMinIOStorage(config.MinIO, logger)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", config.Backend)
	}
}
