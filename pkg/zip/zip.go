package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
)

type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

// ArchiveAssets packs the assets into an in-memory zip. Duplicate
// filenames get a numeric suffix so no entry shadows another.
func ArchiveAssets(assets []Asset) []byte {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	seen := make(map[string]int, len(assets))
	for _, asset := range assets {
		name := asset.Filename
		if n := seen[name]; n > 0 {
			name = numberedName(name, n)
		}
		seen[asset.Filename]++

		w, err := zw.Create(name)
		if err != nil {
			continue
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil
		}
	}
	_ = zw.Close()
	return buf.Bytes()
}

func numberedName(name string, n int) string {
	if dot := strings.LastIndex(name, "."); dot > strings.LastIndex(name, "/") {
		return fmt.Sprintf("%s_%d%s", name[:dot], n+1, name[dot:])
	}
	return fmt.Sprintf("%s_%d", name, n+1)
}
