package mount

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/moby/sys/mountinfo"
	"k8s.io/klog/v2"
)

const (
	// MountTableTimeout is the maximum time to wait for mount table parsing
	MountTableTimeout = 10 * time.Second
)

// MountLister returns the current mount table
type MountLister func(ctx context.Context) ([]*mountinfo.Info, error)

// ListMountsWithTimeout parses /proc/self/mountinfo with a timeout so a hung
// filesystem cannot stall the run after the script has already finished.
func ListMountsWithTimeout(ctx context.Context) ([]*mountinfo.Info, error) {
	ctx, cancel := context.WithTimeout(ctx, MountTableTimeout)
	defer cancel()

	type result struct {
		mounts []*mountinfo.Info
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		mounts, err := mountinfo.GetMounts(nil)
		resultCh <- result{mounts: mounts, err: err}
	}()

	select {
	case res := <-resultCh:
		klog.V(5).Infof("Parsed %d mount points from mountinfo", len(res.mounts))
		return res.mounts, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("mount table parsing timed out after %v: %w", MountTableTimeout, ctx.Err())
	}
}

// FindMissingMounts returns the expected mount points that are not present
// in the mount table, in the order they were given.
func FindMissingMounts(ctx context.Context, list MountLister, expected []string) ([]string, error) {
	if len(expected) == 0 {
		return nil, nil
	}

	mounts, err := list(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}

	present := make(map[string]struct{}, len(mounts))
	for _, m := range mounts {
		present[filepath.Clean(m.Mountpoint)] = struct{}{}
	}

	var missing []string
	for _, target := range expected {
		klog.V(4).Infof("Checking expected mount %s", target)
		if _, ok := present[filepath.Clean(target)]; !ok {
			missing = append(missing, target)
		}
	}
	return missing, nil
}
