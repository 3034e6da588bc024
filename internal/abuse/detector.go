// Package abuse 按 (账号, 功能) 统计滑动窗口内的调用次数，用于发现自动化滥用。
//
// 计数只保存在进程内存中，重启后清空，多实例之间也不共享：
// 这是尽力而为的检测，不是安全边界。
package abuse

import (
	"context"
	"sync"
	"time"

	"entitlement-server/internal/metrics"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

const (
	DefaultWindow = 60 * time.Second
	DefaultLimit  = 20
)

type Key struct {
	AccountID uint
	Feature   string
}

type window struct {
	mu    sync.Mutex
	calls []time.Time
	// dead 表示窗口已被 Sweep 从表中移除
	dead bool
}

// prune 丢弃早于 now-size 的记录，调用方需持有 w.mu。
func (w *window) prune(now time.Time, size time.Duration) {
	i := 0
	for i < len(w.calls) && now.Sub(w.calls[i]) >= size {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}

type Detector struct {
	clock   quartz.Clock
	window  time.Duration
	limit   int
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	windows map[Key]*window
}

func NewDetector(clock quartz.Clock, windowSize time.Duration, limit int, log zerolog.Logger, m *metrics.Metrics) *Detector {
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Detector{
		clock:   clock,
		window:  windowSize,
		limit:   limit,
		log:     log.With().Str("component", "abuse").Logger(),
		metrics: m,
		windows: make(map[Key]*window),
	}
}

func (d *Detector) get(key Key) *window {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.windows[key]
	if !ok {
		w = &window{}
		d.windows[key] = w
	}
	return w
}

// RecordAndCheck 在窗口未满时记录本次调用并放行；窗口已满时不记录，
// 返回 false 和建议的重试秒数（等于窗口长度）。
func (d *Detector) RecordAndCheck(accountID uint, feature string) (allowed bool, retryAfter int) {
	key := Key{AccountID: accountID, Feature: feature}
	w := d.get(key)
	w.mu.Lock()
	for w.dead {
		w.mu.Unlock()
		w = d.get(key)
		w.mu.Lock()
	}
	defer w.mu.Unlock()

	now := d.clock.Now()
	w.prune(now, d.window)
	if len(w.calls) >= d.limit {
		d.metrics.AbuseBlock(feature)
		d.log.Warn().
			Uint("account_id", accountID).
			Str("feature", feature).
			Int("calls", len(w.calls)).
			Msg("调用过于频繁")
		return false, int(d.window / time.Second)
	}
	w.calls = append(w.calls, now)
	return true, 0
}

type FeatureStats struct {
	TotalCalls int        `json:"totalCalls"`
	LastCall   *time.Time `json:"lastCall"`
}

// Stats 返回账号在各功能上当前窗口内的调用情况，只读，不修剪窗口。
func (d *Detector) Stats(accountID uint) map[string]FeatureStats {
	d.mu.Lock()
	keys := make([]Key, 0)
	wins := make([]*window, 0)
	for k, w := range d.windows {
		if k.AccountID == accountID {
			keys = append(keys, k)
			wins = append(wins, w)
		}
	}
	d.mu.Unlock()

	now := d.clock.Now()
	stats := make(map[string]FeatureStats, len(keys))
	for i, w := range wins {
		w.mu.Lock()
		var s FeatureStats
		for _, c := range w.calls {
			if now.Sub(c) >= d.window {
				continue
			}
			s.TotalCalls++
			last := c
			s.LastCall = &last
		}
		w.mu.Unlock()
		stats[keys[i].Feature] = s
	}
	return stats
}

// Sweep 删除已经完全过期的窗口，返回删除数量。
func (d *Detector) Sweep() int {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for k, w := range d.windows {
		w.mu.Lock()
		w.prune(now, d.window)
		empty := len(w.calls) == 0
		if empty {
			w.dead = true
		}
		w.mu.Unlock()
		if empty {
			delete(d.windows, k)
			removed++
		}
	}
	return removed
}

func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.windows)
}

// RunSweeper 按 interval 周期调用 Sweep，直到 ctx 结束。
func (d *Detector) RunSweeper(ctx context.Context, interval time.Duration) quartz.Waiter {
	return d.clock.TickerFunc(ctx, interval, func() error {
		if n := d.Sweep(); n > 0 {
			d.log.Debug().Int("removed", n).Msg("已清理过期的调用窗口")
		}
		return nil
	}, "abuse", "sweep")
}
