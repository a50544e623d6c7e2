package utils

import (
	"bytes"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	_ "image/gif"  // Регистрируем GIF декодер
	_ "image/jpeg" // Регистрируем JPEG декодер
	"image/png"

	"github.com/nfnt/resize"
)

// CompressPNG конвертирует изображение в палитровый PNG не больше maxBytes.
//
// Алгоритм:
//  1. Квантование в 256 цветов с дизерингом Floyd-Steinberg
//  2. Пока результат больше maxBytes — уменьшаем ширину и высоту вдвое (Lanczos3)
//
// Если изображение уже 1x1 и всё ещё больше лимита, возвращается последний результат.
// maxBytes <= 0 отключает ограничение размера.
func CompressPNG(data []byte, maxBytes int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	encoded, err := encodePaletted(img)
	if err != nil {
		return nil, err
	}

	for maxBytes > 0 && len(encoded) > maxBytes {
		b := img.Bounds()
		w, h := b.Dx()/2, b.Dy()/2
		if w < 1 || h < 1 {
			break
		}

		img = resize.Resize(uint(w), uint(h), img, resize.Lanczos3)
		encoded, err = encodePaletted(img)
		if err != nil {
			return nil, err
		}
	}

	return encoded, nil
}

// encodePaletted квантует изображение в палитру Plan9 и кодирует в PNG.
func encodePaletted(img image.Image) ([]byte, error) {
	bounds := img.Bounds()
	paletted := image.NewPaletted(image.Rect(0, 0, bounds.Dx(), bounds.Dy()), palette.Plan9)
	draw.FloydSteinberg.Draw(paletted, paletted.Bounds(), img, bounds.Min)

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, paletted); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
