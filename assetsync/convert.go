package assetsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Converter transcodes a cached image and returns the path of the new file.
type Converter interface {
	Convert(ctx context.Context, inPath string) (string, error)
	Ext() string
}

// ExecConverter shells out to an encoder (cwebp by default):
//
//	cwebp -quiet -q <quality> <in> -o <out>
type ExecConverter struct {
	Bin     string
	Quality int
	Timeout time.Duration
}

func (c ExecConverter) Ext() string { return ".webp" }

func (c ExecConverter) Convert(ctx context.Context, inPath string) (string, error) {
	inPath = strings.TrimSpace(inPath)
	if inPath == "" {
		return "", errors.New("image convert: input path is empty")
	}
	outPath := strings.TrimSuffix(inPath, filepath.Ext(inPath)) + c.Ext()

	// A previous run may have converted this file already.
	if outInfo, err := os.Stat(outPath); err == nil && outInfo.Size() > 0 {
		if inInfo, err := os.Stat(inPath); err == nil && !outInfo.ModTime().Before(inInfo.ModTime()) {
			return outPath, nil
		}
	}

	bin := strings.TrimSpace(c.Bin)
	if bin == "" {
		bin = "cwebp"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return "", fmt.Errorf("image convert: encoder %q not found", bin)
	}
	quality := c.Quality
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_ = os.Remove(outPath) // stale partial output from a killed run
	cmd := exec.CommandContext(ctx, bin, "-quiet", "-q", strconv.Itoa(quality), inPath, "-o", outPath)
	out, runErr := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		_ = os.Remove(outPath)
		return "", fmt.Errorf("image convert timed out after %s", timeout)
	}
	if runErr != nil {
		_ = os.Remove(outPath)
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = runErr.Error()
		}
		return "", fmt.Errorf("image convert failed: %s", msg)
	}
	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("image convert: output missing: %w", err)
	}
	return outPath, nil
}
