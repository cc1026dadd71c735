package recording

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"vpe/mediatool"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".ts":   true,
	".flv":  true,
	".webm": true,
}

// IsVideoFile reports whether name has a recognised video extension.
func IsVideoFile(name string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(name))]
}

// Concatenator merges the recorded segments of a directory into one file.
type Concatenator struct {
	gateway        mediatool.Gateway
	degenerateSize int64
	deleteInputs   bool
	now            func() time.Time
}

// NewConcatenator creates a Concatenator. Files of exactly degenerateSize bytes are
// treated as empty recordings and deleted.
func NewConcatenator(gateway mediatool.Gateway, degenerateSize int64, deleteInputs bool) *Concatenator {
	if degenerateSize <= 0 {
		degenerateSize = DefaultDegenerateSize
	}
	return &Concatenator{
		gateway:        gateway,
		degenerateSize: degenerateSize,
		deleteInputs:   deleteInputs,
		now:            time.Now,
	}
}

// Merge returns the single recording of dir, merging segments when there are several.
// An empty string means nothing usable was recorded.
func (c *Concatenator) Merge(ctx context.Context, dir string) (string, error) {
	segments, err := c.segments(dir)
	if err != nil {
		return "", err
	}

	switch len(segments) {
	case 0:
		log.Printf("[concat] no usable segments in %s", dir)
		return "", nil
	case 1:
		return segments[0], nil
	}

	output := c.outputPath(dir)
	log.Printf("[concat] merging %d segments into %s", len(segments), filepath.Base(output))
	if err := c.gateway.Concat(ctx, segments, output); err != nil {
		return "", fmt.Errorf("failed to merge segments: %w", err)
	}

	if c.deleteInputs {
		for _, s := range segments {
			if err := os.Remove(s); err != nil {
				log.Printf("[concat] warning: could not remove segment %s: %v", s, err)
			}
		}
	}
	return output, nil
}

// segments lists the usable video files of dir ordered by modification time,
// deleting degenerate ones on the way.
func (c *Concatenator) segments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read segment directory: %w", err)
	}

	type segment struct {
		path    string
		modTime time.Time
	}
	var found []segment
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !IsVideoFile(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, name)
		if info.Size() == 0 || info.Size() == c.degenerateSize {
			log.Printf("[concat] removing degenerate segment %s (%d bytes)", name, info.Size())
			os.Remove(path)
			continue
		}
		found = append(found, segment{path: path, modTime: info.ModTime()})
	}

	sort.Slice(found, func(i, j int) bool {
		if !found[i].modTime.Equal(found[j].modTime) {
			return found[i].modTime.Before(found[j].modTime)
		}
		return found[i].path < found[j].path
	})

	paths := make([]string, len(found))
	for i, s := range found {
		paths[i] = s.path
	}
	return paths, nil
}

func (c *Concatenator) outputPath(dir string) string {
	base := "merged_" + c.now().Format("02_01_2006_15_04_05")
	output := filepath.Join(dir, base+".mp4")
	for i := 1; ; i++ {
		if _, err := os.Stat(output); os.IsNotExist(err) {
			return output
		}
		output = filepath.Join(dir, fmt.Sprintf("%s_%d.mp4", base, i))
	}
}
