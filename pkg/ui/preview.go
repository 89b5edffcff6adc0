package ui

import (
	"bytes"
	"strings"

	"github.com/Chrono-byte/flux/pkg/types"
	"github.com/aymanbagabas/go-udiff"
)

// binaryNotice replaces a content diff when either side is not text
const binaryNotice = "binary content differs"

// Previews builds content diffs for every BackupAndReplace in ops, keyed by
// target path. Operations whose sides are not both regular files are left
// out.
func Previews(fsys types.FS, ops []types.Operation) map[string]string {
	previews := make(map[string]string)
	for _, op := range ops {
		if op.Kind != types.OpBackupAndReplace {
			continue
		}
		if p, ok := Preview(fsys, op); ok {
			previews[op.Target] = p
		}
	}
	return previews
}

// Preview renders the unified diff between the current destination and
// the content that will replace it.
func Preview(fsys types.FS, op types.Operation) (string, bool) {
	from, ok := regularContent(fsys, op.Target)
	if !ok {
		return "", false
	}
	to, ok := regularContent(fsys, op.Source)
	if !ok {
		return "", false
	}
	if isBinary(from) || isBinary(to) {
		return binaryNotice, true
	}
	diff := strings.TrimSpace(udiff.Unified(op.Target, op.Source, string(from), string(to)))
	if diff == "" {
		return "", false
	}
	return diff, true
}

// regularContent follows symlinks, so a linked source previews its target
func regularContent(fsys types.FS, path string) ([]byte, bool) {
	info, err := fsys.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, false
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0
}
