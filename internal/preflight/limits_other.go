//go:build !unix

package preflight

// MinDiskSpaceBytes is the minimum free space on the data directory's volume.
const MinDiskSpaceBytes = 100 * 1024 * 1024

// MinFileDescriptors covers the bleve segments, SQLite files and sockets
// a serving process holds open.
const MinFileDescriptors = 1024

// CheckDiskSpace is not measured on this platform.
func (c *Checker) CheckDiskSpace(string) CheckResult {
	return CheckResult{Name: "disk_space", Status: StatusWarn, Message: "not measured on this platform"}
}

// CheckFileDescriptors is not measured on this platform.
func (c *Checker) CheckFileDescriptors() CheckResult {
	return CheckResult{Name: "file_descriptors", Status: StatusPass, Message: "no limit on this platform"}
}
