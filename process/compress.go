package process

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"vpe/mediatool"
	"vpe/order"
)

// DefaultFPS is the frame rate of compressed output.
const DefaultFPS = 24

// Compressor re-encodes a file at a constant bitrate.
type Compressor struct {
	gateway mediatool.Gateway
	fps     int
}

// NewCompressor creates a Compressor writing fps frames per second.
func NewCompressor(gateway mediatool.Gateway, fps int) *Compressor {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Compressor{gateway: gateway, fps: fps}
}

// Compress writes a compressed copy of input into outDir and returns its path.
// Bitrates below the minimum are raised to it.
func (c *Compressor) Compress(ctx context.Context, input, outDir string, bitrateKbps int) (string, error) {
	if bitrateKbps < order.MinCompressionBitrate {
		bitrateKbps = order.MinCompressionBitrate
	}
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	out := filepath.Join(outDir, stem+"_compressed.mp4")

	before := fileSize(input)
	if err := c.gateway.Compress(ctx, input, out, bitrateKbps, c.fps); err != nil {
		return "", err
	}
	log.Printf("[compress] %s: %.2f MB -> %.2f MB at %dk", filepath.Base(input),
		float64(before)/1024/1024, float64(fileSize(out))/1024/1024, bitrateKbps)
	return out, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
