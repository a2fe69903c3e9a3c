package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default satdl data directory name (relative to home).
	DefaultDataDir = ".satdl"
	// DBFile is the filename of the SQLite database.
	DBFile = "satdl.db"
	// DownloadsDir is the subdirectory where every job downloads its documents.
	DownloadsDir = "downloads"
	// ArtifactsDir is the subdirectory of the local diagnostic artifacts.
	ArtifactsDir = "artifacts"
	// ConfigFile is the default server configuration filename.
	ConfigFile = "config.yaml"

	// DefaultListenAddress is the default address of the API server.
	DefaultListenAddress = ":8080"
)

// DBPath returns the path of the SQLite database.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// DownloadsPath returns the parent directory of the per job download directories.
func DownloadsPath(dataDir string) string {
	return filepath.Join(dataDir, DownloadsDir)
}

// JobDownloadsPath returns the directory where a job downloads its documents.
func JobDownloadsPath(dataDir, jobID string) string {
	return filepath.Join(DownloadsPath(dataDir), jobID)
}

// ArtifactsPath returns the root of the local artifact store.
func ArtifactsPath(dataDir string) string {
	return filepath.Join(dataDir, ArtifactsDir)
}

// ConfigPath returns the default server configuration path.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, ConfigFile)
}
