// internal/browser/actuator.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrUnknownViewport is returned when a percentage coordinate must be converted
// but the viewport size is unknown or zero.
var ErrUnknownViewport = errors.New("viewport size is unknown")

// Direction is a scroll direction.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Valid reports whether d is a supported scroll direction.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// Viewport is the size of the visible page area in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Actuator is the set of primitives the agent uses to drive a page. All
// coordinates are percentages of the viewport in [0,100].
type Actuator interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, xPct, yPct float64) error
	Type(ctx context.Context, text string) error
	Scroll(ctx context.Context, dir Direction, amount int) error
	PressKey(ctx context.Context, key string) error
	Screenshot(ctx context.Context) ([]byte, error)
	ViewportSize(ctx context.Context) (Viewport, error)
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
}

// ToPixels converts percentage coordinates to viewport pixels. Percentages are
// clamped to [0,100]; a zero viewport is an error.
func ToPixels(v Viewport, xPct, yPct float64) (float64, float64, error) {
	if v.Width <= 0 || v.Height <= 0 {
		return 0, 0, fmt.Errorf("cannot convert (%.1f%%, %.1f%%): %w", xPct, yPct, ErrUnknownViewport)
	}
	x := clampPercent(xPct) / 100 * float64(v.Width)
	y := clampPercent(yPct) / 100 * float64(v.Height)
	return math.Round(x), math.Round(y), nil
}

func clampPercent(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return math.Max(0, math.Min(100, p))
}
