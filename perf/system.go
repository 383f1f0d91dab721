package perf

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// CPUStats CPU 统计
type CPUStats struct {
	UsagePercent  float64 `json:"usage_percent"`
	Cores         int     `json:"cores"`          // 逻辑处理器数
	PhysicalCores int     `json:"physical_cores"` // 物理核心数
}

// MemoryStats 内存统计
type MemoryStats struct {
	TotalBytes   uint64  `json:"total_bytes"`
	UsedBytes    uint64  `json:"used_bytes"`
	UsagePercent float64 `json:"usage_percent"`
}

// LoadStats 系统负载统计
type LoadStats struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

// SystemStats 系统统计汇总, 供监控面板展示
type SystemStats struct {
	CPU         CPUStats    `json:"cpu"`
	Memory      MemoryStats `json:"memory"`
	Load        LoadStats   `json:"load"`
	CollectedAt time.Time   `json:"collected_at"`
}

// SystemCollector 系统统计采集器
type SystemCollector struct {
	mu sync.Mutex
}

// NewSystemCollector 创建系统统计采集器
func NewSystemCollector() *SystemCollector {
	return &SystemCollector{}
}

// Collect 采集系统统计
func (c *SystemCollector) Collect() (*SystemStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := &SystemStats{CollectedAt: time.Now()}

	// 采集 CPU
	cpuPercent, err := cpu.Percent(0, false)
	if err == nil && len(cpuPercent) > 0 {
		stats.CPU.UsagePercent = cpuPercent[0]
	}

	logicalCores, err := cpu.Counts(true)
	if err == nil {
		stats.CPU.Cores = logicalCores
	} else {
		stats.CPU.Cores = runtime.NumCPU() // 降级为容器内的值
	}

	physicalCores, err := cpu.Counts(false)
	if err == nil {
		stats.CPU.PhysicalCores = physicalCores
	} else {
		stats.CPU.PhysicalCores = stats.CPU.Cores
	}

	// 采集内存
	memInfo, err := mem.VirtualMemory()
	if err == nil {
		stats.Memory.TotalBytes = memInfo.Total
		stats.Memory.UsedBytes = memInfo.Used
		stats.Memory.UsagePercent = memInfo.UsedPercent
	}

	// 采集负载 (Windows 不支持，返回 0)
	loadInfo, err := load.Avg()
	if err == nil && loadInfo != nil {
		stats.Load.Load1 = loadInfo.Load1
		stats.Load.Load5 = loadInfo.Load5
		stats.Load.Load15 = loadInfo.Load15
	}

	return stats, nil
}
