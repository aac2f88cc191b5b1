// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package shuffleconfig loads the repartitioner's external configuration:
// the output partition count, the partitioning rule selector, the
// sub-batch size, and the disk-spill threshold.
package shuffleconfig

import (
	"fmt"

	"sigs.k8s.io/yaml"
)

// DefaultDiskSpillBufferedSizeLimit is the default 16 MiB threshold for
// the freeze-vs-promote branch in the spill promoter.
const DefaultDiskSpillBufferedSizeLimit = 16 << 20

// DefaultBatchSize matches the host engine's usual vectorized batch size.
const DefaultBatchSize = 4096

// Config is the external configuration of one repartitioner.
type Config struct {
	NumOutputPartitions        int    `json:"numOutputPartitions"`
	PartitioningRule           string `json:"partitioningRule"`
	BatchSize                  int    `json:"batchSize"`
	DiskSpillBufferedSizeLimit int64  `json:"diskSpillBufferedSizeLimit"`
}

// Load parses a YAML configuration document, applying the same defaults
// a Config built via Default() would have for any field left unset.
func Load(doc []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(doc, &c); err != nil {
		return Config{}, fmt.Errorf("shuffleconfig: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Default returns a Config with every field at its documented default,
// except NumOutputPartitions and PartitioningRule, which callers must
// always set explicitly: the partition count is fixed at repartitioner
// construction time, and there is no sane default for it.
func Default() Config {
	return Config{
		BatchSize:                  DefaultBatchSize,
		DiskSpillBufferedSizeLimit: DefaultDiskSpillBufferedSizeLimit,
	}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.NumOutputPartitions <= 0 {
		return fmt.Errorf("shuffleconfig: numOutputPartitions must be > 0")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("shuffleconfig: batchSize must be > 0")
	}
	if c.DiskSpillBufferedSizeLimit <= 0 {
		return fmt.Errorf("shuffleconfig: diskSpillBufferedSizeLimit must be > 0")
	}
	switch c.PartitioningRule {
	case "hash", "range", "round-robin":
	default:
		return fmt.Errorf("shuffleconfig: unknown partitioningRule %q", c.PartitioningRule)
	}
	return nil
}
