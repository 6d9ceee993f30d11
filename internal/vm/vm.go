// Package vm holds the slice of the workload record the migration tasks act
// on. Full inventory discovery belongs to the platform backend, not here.
package vm

// Brands whose disk layout changes which datasets a migration must cover.
const (
	// BrandKVM keeps each attached disk on its own dataset outside the
	// workload's primary filesystem.
	BrandKVM = "kvm"
	// BrandBhyve nests disk datasets under the primary filesystem, so a
	// recursive send of the primary covers them.
	BrandBhyve = "bhyve"
)

type Disk struct {
	ZfsFilesystem string `json:"zfs_filesystem"`
}

// Workload is the subset of a machine record a migration task needs.
type Workload struct {
	UUID          string `json:"uuid"`
	Brand         string `json:"brand"`
	ZfsFilesystem string `json:"zfs_filesystem"`
	Disks         []Disk `json:"disks,omitempty"`
}

// MigrationDatasets returns every dataset a transfer of this workload must
// replicate: the primary filesystem plus, for brands with external disk
// datasets, each disk's dataset. Nested-disk brands contribute nothing extra
// because the recursive send of the primary already includes them.
func (w Workload) MigrationDatasets() []string {
	datasets := []string{w.ZfsFilesystem}
	if w.Brand != BrandKVM {
		return datasets
	}
	for _, disk := range w.Disks {
		if disk.ZfsFilesystem != "" {
			datasets = append(datasets, disk.ZfsFilesystem)
		}
	}
	return datasets
}
