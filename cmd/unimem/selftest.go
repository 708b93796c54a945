package main

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/born-ml/unimem/tensor"
	"github.com/born-ml/unimem/unified"
)

var (
	selftestSize       int
	selftestHostMapped bool
)

func init() {
	cmd := newSelftestCmd()
	cmd.Flags().IntVar(&selftestSize, "size", 1<<20, "Buffer size in bytes")
	cmd.Flags().BoolVar(&selftestHostMapped, "host-mapped", false, "Use host-mapped instead of managed memory")
	rootCmd.AddCommand(cmd)
}

func newSelftestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Allocate, migrate, advise and release a unified buffer",
		Long: `The selftest command walks one unified buffer through its life cycle:
allocation, host and device views without copying, advice and prefetch
(managed memory only), the no-fork hint, a contiguous host copy, and
release on the allocating device.

Example:
  unimem selftest
  unimem selftest --host-mapped --size 65536
  unimem selftest --driver cuda -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			alloc, log, err := newAllocator()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return runSelftest(alloc, log, selftestSize, selftestHostMapped, cmd.OutOrStdout())
		},
	}
}

func runSelftest(alloc *unified.Allocator, log *zap.Logger, size int, hostMapped bool, out io.Writer) error {
	step := func(format string, args ...any) {
		fmt.Fprintf(out, "ok   "+format+"\n", args...)
	}

	if err := exerciseBuffer(alloc, size, hostMapped, step); err != nil {
		return err
	}

	stats := alloc.Stats()
	log.Debug("selftest: finished", zap.Uint64("allocations", stats.Allocations), zap.Uint64("releases", stats.Releases))
	if stats.LiveBuffers != 0 {
		return fmt.Errorf("%d buffers still live after release", stats.LiveBuffers)
	}
	step("release (%d allocated, %d freed)", stats.Allocations, stats.Releases)
	return nil
}

// exerciseBuffer runs every operation on one buffer. All views are released
// on return.
func exerciseBuffer(alloc *unified.Allocator, size int, hostMapped bool, step func(string, ...any)) error {
	var opts []unified.AllocOption
	if hostMapped {
		opts = append(opts, unified.WithHostMapped())
	}
	v, err := alloc.Allocate(tensor.Shape{size}, tensor.Uint8, opts...)
	if err != nil {
		return err
	}
	defer v.Release()
	if !unified.IsUnifiedAndOnDevice(v) {
		return fmt.Errorf("new view is not unified on a device: %s", v)
	}
	step("allocate %d bytes (%s)", size, v.Storage().Root().Kind())

	h, err := alloc.ToHost(v)
	if err != nil {
		return err
	}
	defer h.Release()
	data := h.AsUint8()
	for i := range data {
		data[i] = byte(i)
	}
	if h.DevicePointer() != v.DevicePointer() {
		return fmt.Errorf("host view moved the buffer: %#x != %#x", h.DevicePointer(), v.DevicePointer())
	}
	step("host view shares device address %#x", v.DevicePointer())

	d := v
	if alloc.DeviceCount() > 1 {
		d, err = alloc.ToDevice(h, 1)
		if err != nil {
			return err
		}
		defer d.Release()
		step("view rebound to %s", d.Device())
	}

	if !hostMapped {
		if err := alloc.SetAdvice(d, unified.SetReadMostly); err != nil {
			return err
		}
		if err := alloc.Prefetch(d); err != nil {
			return err
		}
		if err := alloc.PrefetchTo(h, tensor.Host); err != nil {
			return err
		}
		step("advice and prefetch")
	}

	if err := alloc.MarkNoFork(h); err != nil {
		return err
	}
	step("no-fork hint")

	c, err := alloc.CloneToHostContiguous(d)
	if err != nil {
		return err
	}
	defer c.Release()
	if !bytes.Equal(c.Data(), h.Data()) {
		return fmt.Errorf("host copy differs from the buffer")
	}
	step("contiguous host copy")
	return nil
}
