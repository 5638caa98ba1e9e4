// Package pltpatch attempts to make a dynamic symbol's linkage-table
// slot writable, the first step of a PLT/GOT hook.
//
// After a successful write-enable the page is returned to the
// protection it had before, read from the maps file, not forced to
// read-only. Read-only is used only when the prior protection cannot
// be read (see WithInspector).
package pltpatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/frobware/go-raspeval"
	"github.com/frobware/go-raspeval/elfimage"
	"github.com/frobware/go-raspeval/logging"
	"github.com/frobware/go-raspeval/memprot"
)

// Component is the logging component name of the probe.
const Component = "pltpatch"

// Probe resolves linkage-table slots and toggles their protection.
type Probe struct {
	resolver  elfimage.Resolver
	protector memprot.Protector
	inspector memprot.Inspector
	pageSize  uintptr
	logger    *slog.Logger
}

// Option configures a Probe.
type Option func(*Probe)

// WithResolver replaces the ELF resolver.
func WithResolver(r elfimage.Resolver) Option {
	return func(p *Probe) { p.resolver = r }
}

// WithProtector replaces the protection capability.
func WithProtector(pr memprot.Protector) Option {
	return func(p *Probe) { p.protector = pr }
}

// WithInspector replaces the lookup of a page's current protection.
// A nil inspector restores pages to read-only.
func WithInspector(in memprot.Inspector) Option {
	return func(p *Probe) { p.inspector = in }
}

// WithPageSize overrides the system page size.
func WithPageSize(size uintptr) Option {
	return func(p *Probe) { p.pageSize = size }
}

// New returns a probe acting on the current process.
func New(logger *slog.Logger, opts ...Option) *Probe {
	if logger == nil {
		logger = logging.Discard()
	}
	mp := memprot.Mprotect{}
	p := &Probe{
		resolver:  elfimage.NewProcResolver(),
		protector: mp,
		inspector: mp,
		pageSize:  memprot.PageSize(),
		logger:    logger.With(logging.ComponentKey, Component),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Locate resolves symbol in target to its linkage-table slot.
func (p *Probe) Locate(target raspeval.LibraryTarget, symbol string) (raspeval.SymbolLocation, error) {
	img, err := p.resolver.Resolve(target)
	if err != nil {
		return raspeval.SymbolLocation{}, err
	}
	off, err := p.resolver.FindSymbol(img, symbol)
	if err != nil {
		return raspeval.SymbolLocation{}, err
	}
	return raspeval.SymbolLocation{
		Library: target.Name,
		Path:    img.Path,
		Symbol:  symbol,
		Base:    img.Base,
		Offset:  off,
	}, nil
}

// Attempt makes the page holding symbol's slot readable and writable,
// then restores it. Resolution failures yield InvocationError, a
// refused protection change yields Blocked, and a successful change
// yields Bypassed whether or not the restore succeeds.
func (p *Probe) Attempt(ctx context.Context, target raspeval.LibraryTarget, symbol string) raspeval.Verdict {
	logger := p.logger.With("library", target.Name, "symbol", symbol)

	loc, err := p.Locate(target, symbol)
	if err != nil {
		logResolveError(ctx, logger, err)
		return raspeval.InvocationError
	}

	slot := loc.SlotAddr()
	region := raspeval.RegionFor(slot, p.pageSize)
	logger = logger.With("path", loc.Path, "slot", slotAttr(slot), "region", region.String())
	logger.DebugContext(ctx, "resolved linkage slot", "base", slotAttr(loc.Base), "offset", loc.Offset)

	restore := p.priorProtection(ctx, logger, region)

	if err := p.protector.SetProtection(region, raspeval.ProtRead|raspeval.ProtWrite); err != nil {
		logger.InfoContext(ctx, "write-enable denied", "error", err, "verdict", raspeval.Blocked)
		return raspeval.Blocked
	}
	logger.InfoContext(ctx, "write-enable succeeded", "protection", raspeval.ProtRead|raspeval.ProtWrite)

	if err := p.protector.SetProtection(region, restore); err != nil {
		rf := raspeval.ErrRestoreFailed{Region: region, Restore: restore, Err: err}
		logger.ErrorContext(ctx, "protection restore failed", "error", rf, "severity", "elevated")
	} else {
		logger.InfoContext(ctx, "protection restored", "protection", restore)
	}

	logger.ErrorContext(ctx, "linkage slot made writable", "verdict", raspeval.Bypassed)
	return raspeval.Bypassed
}

func (p *Probe) priorProtection(ctx context.Context, logger *slog.Logger, region raspeval.ProtectedRegion) raspeval.Protection {
	if p.inspector == nil {
		return raspeval.ProtRead
	}
	prot, err := p.inspector.ProtectionAt(region.Start)
	if err != nil {
		logger.DebugContext(ctx, "current protection unknown, restoring read-only", "error", err)
		return raspeval.ProtRead
	}
	return prot
}

func logResolveError(ctx context.Context, logger *slog.Logger, err error) {
	var (
		libErr raspeval.ErrLibraryNotFound
		symErr raspeval.ErrSymbolNotFound
	)
	switch {
	case errors.As(err, &libErr):
		logger.WarnContext(ctx, "library not found", "error", err, "verdict", raspeval.InvocationError)
	case errors.As(err, &symErr):
		logger.WarnContext(ctx, "symbol not found", "error", err, "verdict", raspeval.InvocationError)
	default:
		logger.WarnContext(ctx, "symbol resolution failed", "error", err, "verdict", raspeval.InvocationError)
	}
}

type slotAttr uintptr

func (a slotAttr) LogValue() slog.Value {
	return slog.StringValue(fmt.Sprintf("%#x", uintptr(a)))
}
