package dataset

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/rand"
	"os"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	"golang.org/x/sync/errgroup"

	"github.com/avoskres/satseg/internal/config"
	"github.com/avoskres/satseg/internal/models"
)

// Loader builds single-pass batch streams over a split subset. Decoding
// file paths into pixel grids is fanned out over a bounded worker pool;
// the consumer only ever sees a blocking Next.
type Loader struct {
	Preset    config.Preset
	ImageSize int
	BatchSize int
	Workers   int
	Augment   bool
	Seed      int64
}

// Stream is one pass over a fixed item order. Not restartable: a new
// epoch gets a new Stream (and with it a fresh shuffle).
type Stream struct {
	loader  *Loader
	items   []models.Item
	augment bool
	seed    int64
	pos     int
}

// Stream shuffles the subset with a seed derived from (seed, epoch) and
// returns a fresh pass over it. Augmentation applies only when the
// loader has it enabled and train is set; validation passes are never
// augmented.
func (l *Loader) Stream(items []models.Item, epoch int, train bool) *Stream {
	seed := l.seedFor(epoch, train)
	shuffled := make([]models.Item, len(items))
	copy(shuffled, items)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	return &Stream{
		loader:  l,
		items:   shuffled,
		augment: train && l.Augment,
		seed:    seed,
	}
}

func (l *Loader) seedFor(epoch int, train bool) int64 {
	mix := int64(epoch)*2 + 1
	if train {
		mix++
	}
	return l.Seed ^ (mix * 0x9e3779b9)
}

// Next assembles the next batch, decoding its items concurrently. The
// final batch of a pass may be short. Returns io.EOF once the pass is
// exhausted.
func (s *Stream) Next(ctx context.Context) (models.Batch, error) {
	if s.pos >= len(s.items) {
		return models.Batch{}, io.EOF
	}

	end := s.pos + s.loader.BatchSize
	if end > len(s.items) {
		end = len(s.items)
	}
	chunk := s.items[s.pos:end]

	batch := models.Batch{
		Images: make([]models.Image, len(chunk)),
		Masks:  make([]models.Grid, len(chunk)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.loader.Workers)
	for i, item := range chunk {
		i, item := i, item
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, mask, err := s.loader.decodeItem(item)
			if err != nil {
				return err
			}
			if s.augment {
				flip := rand.New(rand.NewSource(s.seed + int64(s.pos+i)))
				applyFlips(img, mask, flip.Intn(2) == 1, flip.Intn(2) == 1)
			}
			batch.Images[i] = img
			batch.Masks[i] = mask
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.Batch{}, err
	}

	s.pos = end
	return batch, nil
}

func (l *Loader) decodeItem(item models.Item) (models.Image, models.Grid, error) {
	src, err := decodeScaled(item.ImagePath, l.ImageSize)
	if err != nil {
		return models.Image{}, models.Grid{}, fmt.Errorf("failed to load image %s: %w", item.ImagePath, err)
	}
	maskSrc, err := decodeScaled(item.MaskPath, l.ImageSize)
	if err != nil {
		return models.Image{}, models.Grid{}, fmt.Errorf("failed to load mask %s: %w", item.MaskPath, err)
	}

	return toChannels(src, l.Preset.Channels), toMask(maskSrc), nil
}

// decodeScaled reads any registered raster format (tiff for satellite
// bands, png/jpeg for 8-bit exports) and scales it to size x size.
func decodeScaled(path string, size int) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

func toChannels(img *image.RGBA, channels int) models.Image {
	size := img.Bounds().Dx()
	out := models.Image{Channels: make([]models.Grid, channels)}
	for c := range out.Channels {
		out.Channels[c] = models.NewGrid(size, size)
	}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := img.PixOffset(x, y)
			for c := 0; c < channels && c < 3; c++ {
				out.Channels[c].Set(x, y, float32(img.Pix[off+c])/255)
			}
		}
	}
	return out
}

func toMask(img *image.RGBA) models.Grid {
	size := img.Bounds().Dx()
	mask := models.NewGrid(size, size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			// Red plane carries the binary label in the mask exports.
			if img.Pix[img.PixOffset(x, y)] >= 128 {
				mask.Set(x, y, 1)
			}
		}
	}
	return mask
}

func applyFlips(img models.Image, mask models.Grid, horizontal, vertical bool) {
	if horizontal {
		for _, ch := range img.Channels {
			flipH(ch)
		}
		flipH(mask)
	}
	if vertical {
		for _, ch := range img.Channels {
			flipV(ch)
		}
		flipV(mask)
	}
}

func flipH(g models.Grid) {
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W/2; x++ {
			a, b := g.At(x, y), g.At(g.W-1-x, y)
			g.Set(x, y, b)
			g.Set(g.W-1-x, y, a)
		}
	}
}

func flipV(g models.Grid) {
	for y := 0; y < g.H/2; y++ {
		for x := 0; x < g.W; x++ {
			a, b := g.At(x, y), g.At(x, g.H-1-y)
			g.Set(x, y, b)
			g.Set(x, g.H-1-y, a)
		}
	}
}
