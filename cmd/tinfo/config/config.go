// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the tinfo configuration, read from a TOML file whose
// keys follow the kernel configuration options they model.
package config

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gvisor.dev/threadinfo/pkg/errors/linuxerr"
	"gvisor.dev/threadinfo/pkg/log"
	"gvisor.dev/threadinfo/pkg/sentry/hostcpu"
	"gvisor.dev/threadinfo/pkg/threadinfo"
)

// pageSizes maps page size names to sizes.
var pageSizes = map[string]uint64{
	"4k":  threadinfo.PageSize4K,
	"16k": threadinfo.PageSize16K,
	"64k": threadinfo.PageSize64K,
}

// Config is the tinfo configuration.
type Config struct {
	// SoftwareTTBR0PAN enables the saved translation root field.
	SoftwareTTBR0PAN bool `toml:"arm64_sw_ttbr0_pan"`

	// ThreadInfoAllocator allocates blocks from per-node pools.
	ThreadInfoAllocator bool `toml:"arch_thread_info_allocator"`

	// PageSize is one of "4k", "16k" or "64k".
	PageSize string `toml:"arm64_page_size"`

	// InitPreemptCount is the preemption count of new blocks.
	InitPreemptCount int32 `toml:"init_preempt_count"`

	// NrCPUs is the number of simulated CPUs.
	NrCPUs int `toml:"nr_cpus"`

	// NumaNodes is the number of allocator nodes.
	NumaNodes int `toml:"numa_nodes"`

	// PoolCapacity is the number of blocks per node.
	PoolCapacity int `toml:"pool_capacity"`

	// ThreadsMax bounds the number of live threads. Zero means no bound.
	ThreadsMax int `toml:"threads_max"`
}

// Default returns the default configuration, with one CPU per possible host
// CPU.
func Default() *Config {
	return &Config{
		SoftwareTTBR0PAN: true,
		PageSize:         "4k",
		InitPreemptCount: threadinfo.InitPreemptCount,
		NrCPUs:           hostcpu.NumPossibleCPUs(runtime.NumCPU()),
		NumaNodes:        1,
		PoolCapacity:     256,
	}
}

// Load reads the configuration from path over the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown keys in config %q: %s: %w", path, strings.Join(keys, ", "), linuxerr.EINVAL)
	}
	return c, nil
}

// ThreadInfo returns the block configuration.
func (c *Config) ThreadInfo() (threadinfo.Config, error) {
	ps, ok := pageSizes[strings.ToLower(c.PageSize)]
	if !ok {
		return threadinfo.Config{}, fmt.Errorf("invalid page size %q, must be 4k, 16k or 64k: %w", c.PageSize, linuxerr.EINVAL)
	}
	cfg := threadinfo.Config{
		SoftwareTTBR0PAN:    c.SoftwareTTBR0PAN,
		ThreadInfoAllocator: c.ThreadInfoAllocator,
		PageSize:            ps,
		InitPreemptCount:    c.InitPreemptCount,
	}
	if err := cfg.Validate(); err != nil {
		return threadinfo.Config{}, err
	}
	return cfg, nil
}

// KernelOpts returns the options of the simulated kernel.
func (c *Config) KernelOpts() (threadinfo.KernelOpts, error) {
	cfg, err := c.ThreadInfo()
	if err != nil {
		return threadinfo.KernelOpts{}, err
	}
	return threadinfo.KernelOpts{
		Config:       cfg,
		NumCPUs:      c.NrCPUs,
		Nodes:        c.NumaNodes,
		PoolCapacity: c.PoolCapacity,
		MaxThreads:   c.ThreadsMax,
	}, nil
}

// Log logs the configuration.
func (c *Config) Log() {
	log.Infof("Config:")
	log.Infof("\t\tarm64_sw_ttbr0_pan: %t", c.SoftwareTTBR0PAN)
	log.Infof("\t\tarch_thread_info_allocator: %t", c.ThreadInfoAllocator)
	log.Infof("\t\tarm64_page_size: %s", c.PageSize)
	log.Infof("\t\tinit_preempt_count: %d", c.InitPreemptCount)
	log.Infof("\t\tnr_cpus: %d", c.NrCPUs)
	log.Infof("\t\tnuma_nodes: %d", c.NumaNodes)
	log.Infof("\t\tpool_capacity: %d", c.PoolCapacity)
	log.Infof("\t\tthreads_max: %d", c.ThreadsMax)
}
