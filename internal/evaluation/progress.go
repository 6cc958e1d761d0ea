package evaluation

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ProgressCallback receives progress notifications while classes are evaluated.
type ProgressCallback interface {
	// OnStart is called once with the number of classes to evaluate.
	OnStart(total int)

	// OnProgress is called after each finished class.
	OnProgress(current, total int)

	// OnComplete is called when evaluation ends, successfully or not.
	OnComplete()
}

// NoOpProgressCallback ignores all notifications.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(total int)             {}
func (NoOpProgressCallback) OnProgress(current, total int) {}
func (NoOpProgressCallback) OnComplete()                   {}

// ConsoleProgressCallback writes one progress line per update interval.
type ConsoleProgressCallback struct {
	writer         io.Writer
	prefix         string
	updateInterval time.Duration
	lastUpdate     time.Time
	startTime      time.Time
	mutex          sync.Mutex
}

// NewConsoleProgressCallback creates a console progress reporter. A nil writer means stderr.
func NewConsoleProgressCallback(writer io.Writer, prefix string) *ConsoleProgressCallback {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleProgressCallback{
		writer:         writer,
		prefix:         prefix,
		updateInterval: 100 * time.Millisecond,
	}
}

// WithUpdateInterval sets the minimum time between two progress lines.
func (c *ConsoleProgressCallback) WithUpdateInterval(interval time.Duration) *ConsoleProgressCallback {
	c.updateInterval = interval
	return c
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.startTime = time.Now()
	c.lastUpdate = time.Time{}
	_, _ = fmt.Fprintf(c.writer, "%s0/%d classes\n", c.prefix, total)
}

func (c *ConsoleProgressCallback) OnProgress(current, total int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	if now.Sub(c.lastUpdate) < c.updateInterval && current < total {
		return
	}
	c.lastUpdate = now

	pct := 100.0
	if total > 0 {
		pct = float64(current) / float64(total) * 100
	}
	_, _ = fmt.Fprintf(c.writer, "%s%d/%d classes (%.1f%%)\n", c.prefix, current, total, pct)
}

func (c *ConsoleProgressCallback) OnComplete() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	elapsed := time.Since(c.startTime)
	_, _ = fmt.Fprintf(c.writer, "%sCompleted in %v\n", c.prefix, elapsed.Round(time.Millisecond))
}

// FuncProgressCallback adapts a function to ProgressCallback; only progress updates are forwarded.
type FuncProgressCallback func(current, total int)

func (FuncProgressCallback) OnStart(total int) {}

func (f FuncProgressCallback) OnProgress(current, total int) {
	if f != nil {
		f(current, total)
	}
}

func (FuncProgressCallback) OnComplete() {}
