// Package artifacts allocates output paths for generated audio and keeps a
// ledger of every artifact the service produced.
package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/lexiqai/indextts-gateway/internal/core"
)

const fileExt = ".wav"

var idPattern = regexp.MustCompile(`^spk_[0-9]+_[0-9a-f-]{36}$`)

// Allocator hands out artifact paths under Dir. Names combine a millisecond
// timestamp with a random UUID, so concurrent or back-to-back allocations
// never collide.
type Allocator struct {
	Dir   string
	clock func() time.Time
}

// NewAllocator returns an allocator writing into dir.
func NewAllocator(dir string) *Allocator {
	return &Allocator{Dir: dir, clock: time.Now}
}

// Allocate reserves a fresh artifact. The file itself is not created.
func (a *Allocator) Allocate() core.Artifact {
	now := a.clock()
	id := fmt.Sprintf("spk_%d_%s", now.UnixMilli(), uuid.NewString())
	return core.Artifact{
		ID:        id,
		Path:      filepath.Join(a.Dir, id+fileExt),
		CreatedAt: now,
	}
}

// Release removes whatever the engine may have written for a failed
// artifact. A missing file is not an error.
func (a *Allocator) Release(art core.Artifact) error {
	err := os.Remove(art.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove partial artifact %s: %w", art.Path, err)
	}
	return nil
}

// PathFor maps an artifact ID back to its path. Unknown-looking IDs are
// NotFound so callers cannot escape Dir.
func (a *Allocator) PathFor(id string) (string, error) {
	if !idPattern.MatchString(id) {
		return "", core.NotFound("artifact", id)
	}
	path := filepath.Join(a.Dir, id+fileExt)
	if _, err := os.Stat(path); err != nil {
		return "", core.NotFound("artifact", id)
	}
	return path, nil
}
