package catalog

// Work directory layout shared by every stage of a run.
const (
	CacheDir         = ".cache"
	ImagesDir        = "images"
	ManifestFile     = "links.txt"
	RunLogFile       = "logs.txt"
	IntegrityLogFile = "integrity_log.txt"
	// FailedLogPrefix starts the name of every download failure sidecar.
	FailedLogPrefix = "Failed_log"
)

// SidecarName returns the failure sidecar file name for an image.
func SidecarName(filename string) string {
	return FailedLogPrefix + "-" + filename + ".txt"
}
