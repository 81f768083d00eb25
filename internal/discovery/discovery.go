package discovery

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wagiedev/workerbridge-go/internal/errors"
)

const (
	// HostBinary is the name of the worker host executable.
	HostBinary = "workerbridge-host"

	// MinimumHostVersion is the minimum supported worker host version.
	MinimumHostVersion = "0.1.0"

	// VersionCheckTimeout is the timeout for the host version check command.
	VersionCheckTimeout = 2 * time.Second
)

var versionPattern = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)

// Config holds configuration for host discovery.
type Config struct {
	// HostPath is an explicit host path that skips PATH search.
	HostPath string

	// SkipVersionCheck skips version validation during discovery.
	SkipVersionCheck bool

	// Logger is an optional logger for discovery operations.
	Logger *slog.Logger
}

// Discoverer locates and validates the worker host binary.
type Discoverer interface {
	// Discover returns the path to the host binary.
	Discover(ctx context.Context) (string, error)
}

type discoverer struct {
	cfg *Config
	log *slog.Logger
}

var _ Discoverer = (*discoverer)(nil)

// NewDiscoverer creates a new host discoverer with the given configuration.
func NewDiscoverer(cfg *Config) Discoverer {
	if cfg == nil {
		cfg = &Config{}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &discoverer{
		cfg: cfg,
		log: log.With("component", "discovery"),
	}
}

// Discover locates the host binary and checks its version.
func (d *discoverer) Discover(ctx context.Context) (string, error) {
	d.log.Debug("Discovering worker host binary")

	hostPath, err := d.findHost()
	if err != nil {
		d.log.Error("Failed to find worker host", "error", err)

		return "", err
	}

	d.log.Debug("Found worker host binary", "host_path", hostPath)

	d.checkVersion(ctx, hostPath)

	return hostPath, nil
}

func (d *discoverer) findHost() (string, error) {
	// An explicit path is used and only it
	if d.cfg.HostPath != "" {
		if _, err := os.Stat(d.cfg.HostPath); err == nil {
			return d.cfg.HostPath, nil
		}

		d.log.Debug("Explicit host path not found", "host_path", d.cfg.HostPath)

		return "", &errors.HostNotFoundError{SearchedPaths: []string{d.cfg.HostPath}}
	}

	searchedPaths := make([]string, 0, 5)

	if path, err := exec.LookPath(HostBinary); err == nil {
		return path, nil
	}

	searchedPaths = append(searchedPaths, "$PATH")

	for _, path := range commonPaths() {
		searchedPaths = append(searchedPaths, path)

		if _, err := os.Stat(path); err == nil {
			d.log.Debug("Found host at common path", "path", path)

			return path, nil
		}
	}

	d.log.Warn("Worker host not found in any searched paths", "searched_paths", searchedPaths)

	return "", &errors.HostNotFoundError{SearchedPaths: searchedPaths}
}

func commonPaths() []string {
	paths := []string{
		filepath.Join("/usr/local/bin", HostBinary),
		filepath.Join("/usr/bin", HostBinary),
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".local/bin", HostBinary),
			filepath.Join(homeDir, "go/bin", HostBinary),
		)
	}

	return paths
}

// checkVersion warns if the host is older than MinimumHostVersion.
// Failures to run or parse the version are ignored.
func (d *discoverer) checkVersion(ctx context.Context, hostPath string) {
	if d.cfg.SkipVersionCheck {
		d.log.Debug("Skipping host version check (configured)")

		return
	}

	ctx, cancel := context.WithTimeout(ctx, VersionCheckTimeout)
	defer cancel()

	//nolint:gosec // G204: the host path comes from configuration or PATH lookup
	output, err := exec.CommandContext(ctx, hostPath, "--version").Output()
	if err != nil {
		d.log.Debug("Host version check failed", "error", err)

		return
	}

	version, ok := ParseVersion(string(output))
	if !ok {
		d.log.Debug("Could not parse host version", "output", strings.TrimSpace(string(output)))

		return
	}

	if CompareVersions(version, MinimumHostVersion) < 0 {
		d.log.Warn("Worker host version is unsupported",
			"version", version,
			"minimum_required", MinimumHostVersion,
		)

		return
	}

	d.log.Debug("Host version check passed", "version", version, "minimum", MinimumHostVersion)
}

// ParseVersion extracts the first X.Y.Z version from output.
func ParseVersion(output string) (string, bool) {
	match := versionPattern.FindStringSubmatch(output)
	if match == nil {
		return "", false
	}

	return match[1], true
}

// CompareVersions compares two semantic versions.
// Returns -1 if a < b, 0 if a == b, 1 if a > b.
func CompareVersions(a, b string) int {
	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")

	for i := range 3 {
		aNum := 0
		bNum := 0

		if i < len(aParts) {
			aNum, _ = strconv.Atoi(aParts[i])
		}

		if i < len(bParts) {
			bNum, _ = strconv.Atoi(bParts[i])
		}

		if aNum < bNum {
			return -1
		}

		if aNum > bNum {
			return 1
		}
	}

	return 0
}
