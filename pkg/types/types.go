package types

import "image"

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is a single object found by a detector
type Detection struct {
	Box         Box     `json:"boundingBox"`
	TagID       string  `json:"tagId,omitempty"`
	TagName     string  `json:"tagName"`
	Probability float64 `json:"probability"`
}

// PixelBox is a bounding box in integer pixel coordinates.
// BottomX and BottomY are exclusive.
type PixelBox struct {
	TopX    int `json:"top_x"`
	TopY    int `json:"top_y"`
	BottomX int `json:"bottom_x"`
	BottomY int `json:"bottom_y"`
}

// Width returns the horizontal extent of the box
func (b PixelBox) Width() int {
	return b.BottomX - b.TopX
}

// Height returns the vertical extent of the box
func (b PixelBox) Height() int {
	return b.BottomY - b.TopY
}

// Empty reports whether the box covers no pixels
func (b PixelBox) Empty() bool {
	return b.Width() <= 0 || b.Height() <= 0
}

// Rect converts the box to an image.Rectangle
func (b PixelBox) Rect() image.Rectangle {
	return image.Rect(b.TopX, b.TopY, b.BottomX, b.BottomY)
}

// ColorResult holds the color analysis for one cropped region
type ColorResult struct {
	DominantForeground string   `json:"dominantColorForeground"`
	DominantBackground string   `json:"dominantColorBackground,omitempty"`
	DominantColors     []string `json:"dominantColors,omitempty"`
	AccentColor        string   `json:"accentColor,omitempty"`
	IsBWImage          bool     `json:"isBwImg,omitempty"`
}

// Record is the per-detection output of one pipeline run
type Record struct {
	Index       int      `json:"index"`
	TagName     string   `json:"tagName"`
	Probability float64  `json:"probability"`
	Color       string   `json:"dominantColor"`
	Box         PixelBox `json:"box"`
}

// BlobRef identifies a newly stored image blob
type BlobRef struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// ImageSource is what a detector receives: a readable URL and the encoded bytes
// behind it. Remote services use the URL; local models use Data.
type ImageSource struct {
	URL    string
	Data   []byte
	Format string
}
