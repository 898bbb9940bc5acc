package clock

import (
	"sync"
	"time"
)

// Clock 提供目前時間，測試時可替換成 Fake
type Clock interface {
	Now() time.Time
}

// Real 使用系統時間 (UTC)
type Real struct{}

func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fake 是可手動調整的時鐘
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set 將時間設定為指定值
func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now.UTC()
}

// Advance 將時間往後推移
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}
