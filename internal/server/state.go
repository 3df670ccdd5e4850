package server

import (
	"sync"

	"github.com/any-hub/any-install/internal/resolver"
)

// State 保存诊断接口展示的阶段与选择结果，由驱动程序在各阶段更新。
type State struct {
	mu        sync.RWMutex
	phase     string
	selection *resolver.Selection
	lastErr   string
}

// NewState 以 "starting" 阶段创建 State。
func NewState() *State {
	return &State{phase: "starting"}
}

// SetPhase 更新当前阶段。
func (s *State) SetPhase(phase string) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
}

// SetSelection 记录解析结果。
func (s *State) SetSelection(sel *resolver.Selection) {
	s.mu.Lock()
	s.selection = sel
	s.mu.Unlock()
}

// SetError 记录导致安装中止的错误。
func (s *State) SetError(err error) {
	s.mu.Lock()
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
	}
	s.mu.Unlock()
}

// Phase 返回当前阶段与最近的错误信息。
func (s *State) Phase() (phase, lastErr string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase, s.lastErr
}

// Selection 返回解析结果，尚未解析时为 nil。
func (s *State) Selection() *resolver.Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection
}
