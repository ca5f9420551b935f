package jinue

import (
	"fmt"
	"sync"

	"github.com/jinuekernel/jinue/internal/abi"
	"github.com/jinuekernel/jinue/internal/proc"
)

// RecordingLogger implements interfaces.Logger by appending every call
// to an in-memory slice instead of writing anywhere, the way the
// teacher's MockBackend stands in for a real device so tests can
// assert on what happened rather than parse log output. Useful for
// test/integration and for any caller of Boot that wants to assert on
// what the kernel logged without standing up internal/logging's real
// go-logr/zap backend.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

// LogEntry is one recorded call to a RecordingLogger method.
type LogEntry struct {
	Level string
	Msg   string
	KV    []any
}

// NewRecordingLogger creates an empty RecordingLogger.
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

func (l *RecordingLogger) record(level, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, KV: kv})
}

func (l *RecordingLogger) Debug(msg string, kv ...any) { l.record("debug", msg, kv...) }
func (l *RecordingLogger) Info(msg string, kv ...any)  { l.record("info", msg, kv...) }
func (l *RecordingLogger) Warn(msg string, kv ...any)  { l.record("warn", msg, kv...) }
func (l *RecordingLogger) Error(msg string, kv ...any) { l.record("error", msg, kv...) }

// Entries returns a copy of every call recorded so far.
func (l *RecordingLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Reset discards every recorded entry.
func (l *RecordingLogger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// HasMessage reports whether any recorded entry's Msg equals msg.
func (l *RecordingLogger) HasMessage(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Msg == msg {
			return true
		}
	}
	return false
}

// NewTestBootInfo builds a minimal, valid abi.BootInfo with availableBytes
// bytes of usable memory, for tests that need to call Boot without
// constructing a real firmware memory map by hand.
func NewTestBootInfo(availableBytes uintptr, cmdLine string) abi.BootInfo {
	const unit = 0x1000
	return abi.BootInfo{
		Magic:            abi.BootMagic,
		KernelImageStart: 0x100000,
		KernelImageTop:   0x200000,
		LoaderImageStart: 0x200000,
		LoaderImageTop:   0x300000,
		RamdiskStart:     0x300000,
		RamdiskSize:      unit,
		ImageTop:         0x400000,
		MemoryMap: []abi.MemoryRange{
			{Base: 0x400000, Length: availableBytes, Available: true},
		},
		CmdLine:       cmdLine,
		BootHeapStart: 0x400000,
		BootHeapEnd:   0x400000 + availableBytes,
	}
}

// NewTestKernel boots a Kernel over a test boot info block with a
// RecordingLogger and a root thread that parks forever, the same
// construct-and-park convention Boot documents for any entry that
// wants the kernel to stay alive after its own setup finishes. Mirrors
// dispatcher_test.go's newTestKernel helper at the public API layer.
func NewTestKernel(availableBytes uintptr) (*Kernel, *RecordingLogger, error) {
	log := NewRecordingLogger()
	info := NewTestBootInfo(availableBytes, "")

	parked := make(chan struct{})
	k, err := Boot(info, log, func(root *proc.Thread) {
		close(parked)
		select {}
	})
	if err != nil {
		return nil, log, fmt.Errorf("test kernel boot: %w", err)
	}
	<-parked
	return k, log, nil
}
