package cache

import "time"

// DefaultFreshness 是 cache-first 条目的默认有效期。
const DefaultFreshness = 30 * time.Minute

// Freshness 根据 Date 头计算条目年龄，决定 cache-first 是否可以直接复用缓存。
type Freshness struct {
	threshold time.Duration
	now       func() time.Time
}

// NewFreshness 构造新鲜度判定器，默认使用 time.Now 作为时钟。
func NewFreshness(threshold time.Duration) Freshness {
	if threshold <= 0 {
		threshold = DefaultFreshness
	}
	return Freshness{
		threshold: threshold,
		now:       time.Now,
	}
}

// WithClock 返回使用指定时钟的副本，便于测试。
func (f Freshness) WithClock(now func() time.Time) Freshness {
	f.now = now
	return f
}

// Threshold 返回当前生效的有效期。
func (f Freshness) Threshold() time.Duration {
	return f.threshold
}

// Age 返回 now − Date；没有 Date 的条目按零时间计算，视为极旧。
func (f Freshness) Age(entry *Entry) time.Duration {
	return f.now().Sub(entry.Timestamp)
}

// IsFresh 判断条目年龄是否仍在有效期内（含边界）。
func (f Freshness) IsFresh(entry *Entry) bool {
	if entry == nil || entry.Timestamp.IsZero() {
		return false
	}
	return f.Age(entry) <= f.threshold
}
