package handlers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var errBadFilename = errors.New("invalid filename")

// contentTypes lists what /files serves and uploads accept.
var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
}

// resolveUploadPath maps a bare filename onto dir, refusing separators,
// dot segments and anything that would land outside dir.
func resolveUploadPath(dir, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`+"\x00") || strings.Contains(name, "..") {
		return "", errBadFilename
	}

	base, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	target := filepath.Clean(filepath.Join(base, name))
	if !strings.HasPrefix(target, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", errBadFilename, name)
	}
	return target, nil
}

func contentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

func safeDeleteUpload(dir, name string) error {
	target, err := resolveUploadPath(dir, name)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
