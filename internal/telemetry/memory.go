package telemetry

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

const (
	mib = 1 << 20
	gib = 1 << 30
)

// HostMemory is a point-in-time snapshot of host memory.
type HostMemory struct {
	UsedBytes  uint64 `json:"used_bytes"`
	TotalBytes uint64 `json:"total_bytes"`
}

// ReadHostMemory samples host memory.
func ReadHostMemory(ctx context.Context) (HostMemory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HostMemory{}, fmt.Errorf("read host memory: %w", err)
	}
	return HostMemory{UsedBytes: vm.Used, TotalBytes: vm.Total}, nil
}

// FormatProcessRAM renders a resident set size as whole MiB, e.g. "1532 MB".
func FormatProcessRAM(rss uint64) string {
	return fmt.Sprintf("%.0f MB", float64(rss)/mib)
}

// FormatSystemRAM renders host memory as "used / total GB" in GiB.
func FormatSystemRAM(m HostMemory) string {
	return fmt.Sprintf("%.1f / %.1f GB", float64(m.UsedBytes)/gib, float64(m.TotalBytes)/gib)
}
