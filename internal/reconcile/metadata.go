package reconcile

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/tower/internal/config"
	"github.com/tonimelisma/tower/internal/registry"
	"github.com/tonimelisma/tower/internal/snapshot"
)

// BuildMetadata assembles the register body for one observed file. The file
// name is NFC-normalized so that names typed on different platforms match in
// search. FileType is the lowercase extension without the dot.
func BuildMetadata(f snapshot.File, device config.DeviceConfig) *registry.FileMetadata {
	return &registry.FileMetadata{
		FileName:         norm.NFC.String(filepath.Base(f.Path)),
		AbsolutePath:     f.Path,
		Device:           device.Name,
		DeviceIP:         device.IP,
		DeviceUser:       device.User,
		LastModifiedTime: registry.NewTimestamp(f.ModifiedAt),
		Size:             f.Size,
		FileType:         FileType(f.Path),
	}
}

// FileType derives the registry file_type from a path: "report.PDF" -> "pdf".
// Files without an extension, and dotfiles such as ".bashrc", have none.
func FileType(path string) string {
	base := filepath.Base(path)

	ext := filepath.Ext(base)
	if ext == base || len(ext) < 2 {
		return ""
	}

	return strings.ToLower(ext[1:])
}
