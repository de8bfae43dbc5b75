//go:build cgo

package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/islandd/internal/logging"
)

// ONNXRuntimeVersion matches the onnxruntime_go binding used by fastembed-go.
const ONNXRuntimeVersion = "1.23.0"

// ErrUnsupportedPlatform indicates the current OS/arch has no ONNX release.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

var platformArchives = map[string]map[string]string{
	"linux":  {"amd64": "linux-x64", "arm64": "linux-aarch64"},
	"darwin": {"amd64": "osx-x86_64", "arm64": "osx-arm64"},
}

const onnxReleaseURL = "https://github.com/microsoft/onnxruntime/releases/download/v%s/onnxruntime-%s-%s.tgz"

func platformArchive(goos, goarch string) (string, error) {
	if arch, ok := platformArchives[goos][goarch]; ok {
		return arch, nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
}

func libraryName(goos string) string {
	if goos == "darwin" {
		return "libonnxruntime.dylib"
	}
	return "libonnxruntime.so"
}

// onnxInstallDir is where a downloaded runtime is kept.
func onnxInstallDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".local", "share", "islandd", "lib")
}

// ONNXLibraryPath returns ONNX_PATH if set, else the managed install if
// present, else "".
func ONNXLibraryPath() string {
	if p := os.Getenv("ONNX_PATH"); p != "" {
		return p
	}
	managed := filepath.Join(onnxInstallDir(), libraryName(runtime.GOOS))
	if _, err := os.Stat(managed); err == nil {
		return managed
	}
	return ""
}

// EnsureONNXRuntime makes the ONNX runtime available to fastembed-go,
// downloading it on first use, and exports ONNX_PATH.
func EnsureONNXRuntime(ctx context.Context, logger *logging.Logger) (string, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if p := ONNXLibraryPath(); p != "" {
		return p, os.Setenv("ONNX_PATH", p)
	}

	logger.Info(ctx, "downloading ONNX runtime",
		zap.String("version", ONNXRuntimeVersion),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH),
	)
	if err := downloadONNXRuntime(ctx, ONNXRuntimeVersion, onnxInstallDir()); err != nil {
		return "", fmt.Errorf("downloading ONNX runtime (set ONNX_PATH to use an existing install): %w", err)
	}
	p := ONNXLibraryPath()
	if p == "" {
		return "", errors.New("ONNX runtime download completed but library not found")
	}
	logger.Info(ctx, "ONNX runtime installed", zap.String("path", p))
	return p, os.Setenv("ONNX_PATH", p)
}

func downloadONNXRuntime(ctx context.Context, version, destDir string) error {
	platform, err := platformArchive(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(destDir, 0700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(onnxReleaseURL, version, platform, version), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	return extractLibraries(resp.Body, destDir, fmt.Sprintf("onnxruntime-%s-%s/lib/", platform, version), libraryName(runtime.GOOS))
}

// extractLibraries copies the files under prefix from a .tgz into destDir,
// flattening paths. Symlinks are recreated as-is.
func extractLibraries(r io.Reader, destDir, prefix, libName string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	found := false
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		if !strings.HasPrefix(name, prefix) || hdr.Typeflag == tar.TypeDir {
			continue
		}
		base := filepath.Base(name)
		dest := filepath.Join(destDir, base)

		switch hdr.Typeflag {
		case tar.TypeSymlink:
			if strings.Contains(hdr.Linkname, "/") {
				continue
			}
			_ = os.Remove(dest)
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				continue
			}
		case tar.TypeReg:
			out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
			if err != nil {
				return fmt.Errorf("creating %s: %w", base, err)
			}
			_, err = io.Copy(out, tr)
			out.Close()
			if err != nil {
				return fmt.Errorf("writing %s: %w", base, err)
			}
		default:
			continue
		}
		if base == libName || strings.HasPrefix(base, libName+".") {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("library %s not found in archive", libName)
	}
	return nil
}

func ensureRuntime(ctx context.Context, logger *logging.Logger) (string, error) {
	return EnsureONNXRuntime(ctx, logger)
}
