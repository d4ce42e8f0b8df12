package collect

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"golang.org/x/image/draw"

	"github.com/prismbot/prism/pkg/models"
)

const jpegQuality = 85

// attachImages normalizes raw attachments into image parts on the
// message. Oversized or undecodable attachments are skipped with a
// warning instead of failing the whole invocation.
func (c *Collector) attachImages(msg *models.Message, attachments []Attachment) (mediaCounts, []string) {
	var counts mediaCounts
	var warnings []string

	var parts []models.Part
	if msg.Content != "" && len(msg.Parts) == 0 {
		parts = append(parts, models.Part{Type: models.PartText, Text: msg.Content})
	} else {
		parts = append(parts, msg.Parts...)
	}

	for _, att := range attachments {
		if !strings.HasPrefix(att.MIME, "image/") {
			continue
		}
		if max := c.media.MaxImageBytes; max > 0 && len(att.Data) > max {
			c.logger.Warn("attachment too large, skipped",
				"file", att.Filename, "bytes", len(att.Data), "cap", max)
			warnings = append(warnings, fmt.Sprintf("圖片 %s 過大，已略過", att.Filename))
			continue
		}

		if att.MIME == "image/gif" {
			frames, err := c.sampleAnimation(att.Data)
			if err != nil {
				c.logger.Warn("animation decode failed, skipped",
					"file", att.Filename, "error", err)
				warnings = append(warnings, fmt.Sprintf("動畫 %s 無法解析，已略過", att.Filename))
				continue
			}
			parts = append(parts, frames...)
			counts.animations++
			continue
		}

		part, err := c.normalizeStatic(att)
		if err != nil {
			c.logger.Warn("image decode failed, skipped",
				"file", att.Filename, "error", err)
			warnings = append(warnings, fmt.Sprintf("圖片 %s 無法解析，已略過", att.Filename))
			continue
		}
		parts = append(parts, part)
		counts.images++
	}

	if counts.empty() {
		return counts, warnings
	}
	msg.Content = ""
	msg.Parts = parts
	return counts, warnings
}

// normalizeStatic decodes one static image and downscales it when an
// edge exceeds the configured maximum. Images already within bounds
// pass through unchanged.
func (c *Collector) normalizeStatic(att Attachment) (models.Part, error) {
	maxEdge := c.media.MaxEdge
	img, format, err := image.Decode(bytes.NewReader(att.Data))
	if err != nil {
		return models.Part{}, fmt.Errorf("decode %s: %w", att.Filename, err)
	}

	bounds := img.Bounds()
	if maxEdge <= 0 || (bounds.Dx() <= maxEdge && bounds.Dy() <= maxEdge) {
		return models.Part{
			Type: models.PartImage,
			MIME: att.MIME,
			Data: base64.StdEncoding.EncodeToString(att.Data),
		}, nil
	}

	scaled := downscale(img, maxEdge)
	var buf bytes.Buffer
	mime := "image/jpeg"
	if format == "png" {
		mime = "image/png"
		err = png.Encode(&buf, scaled)
	} else {
		err = jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return models.Part{}, fmt.Errorf("encode %s: %w", att.Filename, err)
	}
	return models.Part{
		Type: models.PartImage,
		MIME: mime,
		Data: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// sampleAnimation renders an animated GIF to a small set of evenly
// spaced frames so the model sees the motion without the full payload.
func (c *Collector) sampleAnimation(data []byte) ([]models.Part, error) {
	anim, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if len(anim.Image) == 0 {
		return nil, fmt.Errorf("animation has no frames")
	}

	indices := sampleIndices(len(anim.Image), c.media.MaxAnimationFrames)

	// GIF frames may be partial overlays, so composite sequentially
	// up to each sampled index.
	bounds := image.Rect(0, 0, anim.Config.Width, anim.Config.Height)
	if bounds.Empty() {
		bounds = anim.Image[0].Bounds()
	}
	canvas := image.NewRGBA(bounds)

	parts := make([]models.Part, 0, len(indices))
	next := 0
	for i, frame := range anim.Image {
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		if next < len(indices) && i == indices[next] {
			next++

			snapshot := image.Image(canvas)
			if c.media.MaxEdge > 0 &&
				(bounds.Dx() > c.media.MaxEdge || bounds.Dy() > c.media.MaxEdge) {
				snapshot = downscale(canvas, c.media.MaxEdge)
			}
			var buf bytes.Buffer
			if err := png.Encode(&buf, snapshot); err != nil {
				return nil, fmt.Errorf("encode frame %d: %w", i, err)
			}
			parts = append(parts, models.Part{
				Type: models.PartImage,
				MIME: "image/png",
				Data: base64.StdEncoding.EncodeToString(buf.Bytes()),
			})
		}
	}
	return parts, nil
}

// sampleIndices picks up to max evenly spaced frame indices, always
// including the first and last frame.
func sampleIndices(frames, max int) []int {
	if max < 1 {
		max = 1
	}
	if frames <= max {
		indices := make([]int, frames)
		for i := range indices {
			indices[i] = i
		}
		return indices
	}
	if max == 1 {
		return []int{frames - 1}
	}
	indices := make([]int, max)
	for i := 0; i < max; i++ {
		indices[i] = i * (frames - 1) / (max - 1)
	}
	// The integer spacing can repeat an index for tiny inputs.
	out := indices[:0]
	prev := -1
	for _, idx := range indices {
		if idx != prev {
			out = append(out, idx)
		}
		prev = idx
	}
	return out
}

// downscale resizes so the longest edge equals maxEdge, preserving
// aspect ratio.
func downscale(img image.Image, maxEdge int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w >= h {
		h = h * maxEdge / w
		w = maxEdge
	} else {
		w = w * maxEdge / h
		h = maxEdge
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
