// internal/browser/motion.go
package browser

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

const (
	// Fitts's law coefficients in milliseconds.
	fittsA = 80.0
	fittsB = 110.0
	// fittsWidth is the assumed target width in pixels.
	fittsWidth = 30.0
	// stepsPerSecond is the pointer event rate along a path.
	stepsPerSecond = 60
	// curvature bounds how far control points leave the straight line, as a
	// fraction of the distance.
	curvature = 0.25
)

// commonNgrams are typed faster than arbitrary letter pairs.
var commonNgrams = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true, "re": true,
	"es": true, "on": true, "st": true, "nt": true,
}

type point struct{ X, Y float64 }

func (p point) add(o point) point { return point{p.X + o.X, p.Y + o.Y} }
func (p point) sub(o point) point { return point{p.X - o.X, p.Y - o.Y} }
func (p point) mul(s float64) point { return point{p.X * s, p.Y * s} }
func (p point) dist(o point) float64 { return math.Hypot(p.X-o.X, p.Y-o.Y) }
func (p point) perpendicular() point { return point{-p.Y, p.X} }
func (p point) normalize() point {
	m := math.Hypot(p.X, p.Y)
	if m < 1e-9 {
		return point{}
	}
	return p.mul(1 / m)
}

// motion synthesizes pointer paths and keystroke timing that resemble a
// person at the controls. It remembers where the pointer was left.
type motion struct {
	mu  sync.Mutex
	rng *rand.Rand
	pos point
}

func newMotion(seed int64) *motion {
	return &motion{rng: rand.New(rand.NewSource(seed))}
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// moveDuration applies Fitts's law with +/-15% jitter.
func (m *motion) moveDuration(dist float64) time.Duration {
	mt := fittsA + fittsB*math.Log2(1+dist/fittsWidth)
	mt += mt * (m.rng.Float64()*0.3 - 0.15)
	return time.Duration(mt) * time.Millisecond
}

// path returns the pointer positions from the last known position to target,
// along a cubic Bezier curve sampled with ease-in-out timing, and the pause
// between consecutive positions. The final point is always target.
func (m *motion) path(target point) ([]point, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.pos
	m.pos = target
	dist := start.dist(target)
	if dist < 1 {
		return []point{target}, 0
	}

	duration := m.moveDuration(dist)
	steps := max(int(duration.Seconds()*stepsPerSecond), 2)

	dir := target.sub(start).normalize()
	normal := dir.perpendicular()
	bend := func() point { return normal.mul((m.rng.Float64()*2 - 1) * curvature * dist) }
	p1 := start.add(dir.mul(dist / 3)).add(bend())
	p2 := start.add(dir.mul(dist * 2 / 3)).add(bend())

	out := make([]point, steps)
	for i := range out {
		t := easeInOutCubic(float64(i) / float64(steps-1))
		u := 1 - t
		out[i] = start.mul(u * u * u).
			add(p1.mul(3 * u * u * t)).
			add(p2.mul(3 * u * t * t)).
			add(target.mul(t * t * t))
	}
	out[steps-1] = target
	return out, duration / time.Duration(steps)
}

// keyDelays returns the pause before each rune of text. Common letter pairs
// are faster and word boundaries slower.
func (m *motion) keyDelays(text []rune) []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]time.Duration, len(text))
	for i := range text {
		mean, stdDev := 70.0, 28.0
		if i > 0 {
			switch {
			case commonNgrams[string([]rune{text[i-1], text[i]})]:
				mean *= 0.7
			case text[i-1] == ' ':
				mean *= 1.4
			}
		}
		d := math.Max(m.rng.NormFloat64()*stdDev+mean, 35)
		out[i] = time.Duration(d) * time.Millisecond
	}
	return out
}

// moveTasks returns the pointer moves along the path to (x, y).
func (m *motion) moveTasks(x, y float64) chromedp.Tasks {
	pts, pause := m.path(point{x, y})
	tasks := make(chromedp.Tasks, 0, 2*len(pts))
	for _, p := range pts {
		tasks = append(tasks, input.DispatchMouseEvent(input.MouseMoved, p.X, p.Y))
		if pause > 0 {
			tasks = append(tasks, chromedp.Sleep(pause))
		}
	}
	return tasks
}

// typeTasks returns one key event per rune, each preceded by its pause.
func (m *motion) typeTasks(text string) chromedp.Tasks {
	runes := []rune(text)
	delays := m.keyDelays(runes)
	tasks := make(chromedp.Tasks, 0, 2*len(runes))
	for i, r := range runes {
		tasks = append(tasks, chromedp.Sleep(delays[i]), chromedp.KeyEvent(string(r)))
	}
	return tasks
}
