package install

import (
	"sync"
	"time"
)

// ProgressSink 是前端进度控件的契约，只在安装 goroutine 中调用。
type ProgressSink interface {
	PushStatusGroup(totalUnits int64)
	PushStatus(label string, portionUnits int64)
	PopStatus()
	PopStatusGroup()
}

// Snapshot 是 Tracker 的只读副本。
type Snapshot struct {
	Total     int64     `json:"total_units"`
	Done      int64     `json:"done_units"`
	Current   string    `json:"current,omitempty"`
	Portion   int64     `json:"current_units,omitempty"`
	Depth     int       `json:"depth"`
	Installed int       `json:"installed"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker 记录进度，供诊断接口读取。写入来自安装 goroutine，读取方拿到的是副本。
type Tracker struct {
	mu      sync.Mutex
	snap    Snapshot
	stack   []frame
	now     func() time.Time
	forward ProgressSink
}

type frame struct {
	label   string
	portion int64
}

// NewTracker 创建 Tracker；forward 非空时所有调用同时转发给它（例如真实的 UI 控件）。
func NewTracker(forward ProgressSink) *Tracker {
	return &Tracker{now: time.Now, forward: forward}
}

func (t *Tracker) PushStatusGroup(totalUnits int64) {
	t.mu.Lock()
	t.snap = Snapshot{Total: totalUnits, Depth: 1, StartedAt: t.now(), UpdatedAt: t.now()}
	t.stack = t.stack[:0]
	t.mu.Unlock()
	if t.forward != nil {
		t.forward.PushStatusGroup(totalUnits)
	}
}

func (t *Tracker) PushStatus(label string, portionUnits int64) {
	t.mu.Lock()
	t.stack = append(t.stack, frame{label: label, portion: portionUnits})
	t.snap.Current = label
	t.snap.Portion = portionUnits
	t.snap.Depth = 1 + len(t.stack)
	t.snap.UpdatedAt = t.now()
	t.mu.Unlock()
	if t.forward != nil {
		t.forward.PushStatus(label, portionUnits)
	}
}

func (t *Tracker) PopStatus() {
	t.mu.Lock()
	if n := len(t.stack); n > 0 {
		top := t.stack[n-1]
		t.stack = t.stack[:n-1]
		t.snap.Done += top.portion
		t.snap.Installed++
	}
	t.snap.Current, t.snap.Portion = "", 0
	if n := len(t.stack); n > 0 {
		t.snap.Current, t.snap.Portion = t.stack[n-1].label, t.stack[n-1].portion
	}
	t.snap.Depth = 1 + len(t.stack)
	t.snap.UpdatedAt = t.now()
	t.mu.Unlock()
	if t.forward != nil {
		t.forward.PopStatus()
	}
}

func (t *Tracker) PopStatusGroup() {
	t.mu.Lock()
	t.stack = t.stack[:0]
	t.snap.Depth = 0
	t.snap.Current, t.snap.Portion = "", 0
	t.snap.UpdatedAt = t.now()
	t.mu.Unlock()
	if t.forward != nil {
		t.forward.PopStatusGroup()
	}
}

// Snapshot 返回当前进度的副本。
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}
