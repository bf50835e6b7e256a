package wasmpkg

import (
	"context"
	"os"

	"github.com/dustin/go-humanize"
)

// StateInfo walks the blob tree, so it costs O(blob count).
func (m *Manager) StateInfo(ctx context.Context) (StateInfo, error) {
	info, err := m.meta.MigrationInfo(ctx)
	if err != nil {
		return StateInfo{}, err
	}
	layers, err := m.blobs.Size(ctx)
	if err != nil {
		return StateInfo{}, err
	}

	var metaSize int64
	if fi, err := os.Stat(m.cfg.MetadataFile()); err == nil {
		metaSize = fi.Size()
	}
	exe, _ := os.Executable()

	return StateInfo{
		Executable:       exe,
		DataDir:          m.cfg.DataDir,
		LayersDir:        m.cfg.LayersDir(),
		MetadataFile:     m.cfg.MetadataFile(),
		ConfigFile:       m.cfg.File,
		MigrationCurrent: info.Current,
		MigrationTotal:   info.Total,
		LayersSize:       layers,
		MetadataSize:     metaSize,
		Offline:          m.offline,
	}, nil
}

// FormatSize renders n in IEC units, e.g. "1.5 MiB".
func FormatSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
