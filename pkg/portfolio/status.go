// 文件: pkg/portfolio/status.go
// 组合状态与异常处理器

package portfolio

import (
	"errors"
	"log"
	"sync"
)

var (
	ErrFundExists      = errors.New("fund already exists")
	ErrFundNotFound    = errors.New("fund not found")
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrAlreadyRunning  = errors.New("portfolio already running")
	ErrFinalStatus     = errors.New("portfolio status is final")
)

// Status 组合状态
//
//	Initializing -> Running -> Terminating -> Stopped
//	                        -> RuntimeError
//	                        -> Liquidated
//	Invalid / Deleting 可从任意状态进入
type Status int8

const (
	StatusInitializing Status = iota
	StatusRunning
	StatusTerminating
	StatusStopped
	StatusRuntimeError
	StatusLiquidated
	StatusInvalid
	StatusDeleting
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "Initializing"
	case StatusRunning:
		return "Running"
	case StatusTerminating:
		return "Terminating"
	case StatusStopped:
		return "Stopped"
	case StatusRuntimeError:
		return "RuntimeError"
	case StatusLiquidated:
		return "Liquidated"
	case StatusInvalid:
		return "Invalid"
	case StatusDeleting:
		return "Deleting"
	default:
		return "Unknown"
	}
}

// IsFinal 主循环见到终态即退出
func (s Status) IsFinal() bool {
	switch s {
	case StatusStopped, StatusRuntimeError, StatusLiquidated, StatusInvalid, StatusDeleting:
		return true
	}
	return false
}

// =============================================================================
// ExceptionHandler
// =============================================================================

// ExceptionHandler 收集主循环中的异常
//
// Fatal 只记录第一个致命错误，主循环在下一轮检查时转入 RuntimeError。
type ExceptionHandler struct {
	mu       sync.Mutex
	fatal    error
	reported int
}

// Fatal 记录致命错误
func (h *ExceptionHandler) Fatal(err error) {
	if err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fatal == nil {
		h.fatal = err
		log.Printf("[Portfolio] fatal: %v", err)
	}
}

// Report 记录非致命错误
func (h *ExceptionHandler) Report(err error) {
	if err == nil {
		return
	}
	h.mu.Lock()
	h.reported++
	h.mu.Unlock()
	log.Printf("[Portfolio] error: %v", err)
}

// Err 第一个致命错误，没有时为 nil
func (h *ExceptionHandler) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fatal
}

// Reported 非致命错误计数
func (h *ExceptionHandler) Reported() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reported
}
