// Package procscan looks for dynamic instrumentation tooling in a
// process's memory mappings and thread names.
package procscan

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/procfs"

	"github.com/frobware/go-raspeval/logging"
)

// Component is the logging component name of the scanner.
const Component = "procscan"

// DefaultSignatures are the lowercase tool names searched for.
var DefaultSignatures = []string{"frida", "xposed"}

// Source names where a signature was found.
type Source string

const (
	SourceMaps    Source = "maps"
	SourceThreads Source = "threads"
)

// Finding describes the first signature match.
type Finding struct {
	Source    Source `json:"source"`
	Signature string `json:"signature"`
	// Entry is the matching mapping path or thread name.
	Entry string `json:"entry"`
}

// Scanner inspects one process under a proc filesystem root.
type Scanner struct {
	procRoot   string
	pid        int
	signatures []string
	logger     *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithProcRoot scans an alternative proc mount.
func WithProcRoot(root string) Option {
	return func(s *Scanner) { s.procRoot = root }
}

// WithPID scans another process.
func WithPID(pid int) Option {
	return func(s *Scanner) { s.pid = pid }
}

// WithSignatures replaces DefaultSignatures. Matching is
// case-insensitive.
func WithSignatures(sigs []string) Option {
	return func(s *Scanner) {
		s.signatures = s.signatures[:0]
		for _, sig := range sigs {
			if sig = strings.ToLower(strings.TrimSpace(sig)); sig != "" {
				s.signatures = append(s.signatures, sig)
			}
		}
	}
}

// New returns a scanner for the current process.
func New(logger *slog.Logger, opts ...Option) *Scanner {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Scanner{
		procRoot:   procfs.DefaultMountPoint,
		pid:        os.Getpid(),
		signatures: append([]string(nil), DefaultSignatures...),
		logger:     logger.With(logging.ComponentKey, Component),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Detect reports whether any signature appears in either source.
func (s *Scanner) Detect(ctx context.Context) bool {
	_, found := s.Scan(ctx)
	return found
}

// Scan returns the first match. Sources that cannot be read count as
// containing no match.
func (s *Scanner) Scan(ctx context.Context) (Finding, bool) {
	logger := s.logger.With("pid", s.pid)

	fs, err := procfs.NewFS(s.procRoot)
	if err != nil {
		logger.DebugContext(ctx, "proc filesystem unavailable", "root", s.procRoot, "error", err)
		logger.InfoContext(ctx, "no dynamic instrumentation detected")
		return Finding{}, false
	}

	for _, scan := range []func(context.Context, *slog.Logger, procfs.FS) (Finding, bool){s.scanMaps, s.scanThreads} {
		if f, ok := scan(ctx, logger, fs); ok {
			logger.ErrorContext(ctx, "dynamic instrumentation detected",
				"source", f.Source, "signature", f.Signature, "entry", f.Entry)
			return f, true
		}
	}
	logger.InfoContext(ctx, "no dynamic instrumentation detected")
	return Finding{}, false
}

func (s *Scanner) scanMaps(ctx context.Context, logger *slog.Logger, fs procfs.FS) (Finding, bool) {
	proc, err := fs.Proc(s.pid)
	if err != nil {
		logger.DebugContext(ctx, "maps unreadable", "error", err)
		return Finding{}, false
	}
	maps, err := proc.ProcMaps()
	if err != nil {
		logger.DebugContext(ctx, "maps unreadable", "error", err)
		return Finding{}, false
	}
	for _, m := range maps {
		if sig, ok := s.match(m.Pathname); ok {
			return Finding{Source: SourceMaps, Signature: sig, Entry: m.Pathname}, true
		}
	}
	return Finding{}, false
}

func (s *Scanner) scanThreads(ctx context.Context, logger *slog.Logger, fs procfs.FS) (Finding, bool) {
	threads, err := fs.AllThreads(s.pid)
	if err != nil {
		logger.DebugContext(ctx, "thread list unreadable", "error", err)
		return Finding{}, false
	}
	for _, t := range threads {
		comm, err := t.Comm()
		if err != nil {
			// Threads may exit between listing and reading.
			continue
		}
		if sig, ok := s.match(comm); ok {
			return Finding{Source: SourceThreads, Signature: sig, Entry: comm}, true
		}
	}
	return Finding{}, false
}

func (s *Scanner) match(entry string) (string, bool) {
	if entry == "" {
		return "", false
	}
	lower := strings.ToLower(entry)
	for _, sig := range s.signatures {
		if strings.Contains(lower, sig) {
			return sig, true
		}
	}
	return "", false
}
