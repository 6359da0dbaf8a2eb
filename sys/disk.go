package sys

import (
	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v4/disk"
)

// DiskUsage describes the filesystem holding a path.
type DiskUsage struct {
	Path        string  `json:"path"`
	Fstype      string  `json:"fstype"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
}

// GetDiskUsage returns usage of the filesystem that path lives on.
func GetDiskUsage(path string) (*DiskUsage, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return nil, errors.Wrapf(err, "disk usage of %s", path)
	}
	return &DiskUsage{
		Path:        path,
		Fstype:      u.Fstype,
		Total:       u.Total,
		Free:        u.Free,
		Used:        u.Used,
		UsedPercent: u.UsedPercent,
	}, nil
}
