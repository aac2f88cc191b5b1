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

// Command shufflewrite drives the sort-based shuffle repartitioner
// end to end against synthetic rows, for local experimentation and as
// a worked example of wiring Options together.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/SnellerInc/sortshuffle/diskmgr"
	"github.com/SnellerInc/sortshuffle/memmgr"
	"github.com/SnellerInc/sortshuffle/partitioning"
	"github.com/SnellerInc/sortshuffle/rowbatch"
	"github.com/SnellerInc/sortshuffle/shuffle"
	"github.com/SnellerInc/sortshuffle/shuffleconfig"
)

var (
	dashv         bool
	dashConfig    string
	dashN         int
	dashRule      string
	dashRows      int
	dashBatchSize int
	dashBudget    int64
	dashCompress  bool
	dashOutDir    string
)

func init() {
	flag.BoolVar(&dashv, "v", false, "verbose")
	flag.StringVar(&dashConfig, "c", "", "YAML config file (overrides -n, -rule, -batch-size)")
	flag.IntVar(&dashN, "n", 8, "number of output partitions")
	flag.StringVar(&dashRule, "rule", "hash", "partitioning rule: hash, range, round-robin")
	flag.IntVar(&dashRows, "rows", 100000, "number of synthetic rows to ingest")
	flag.IntVar(&dashBatchSize, "batch-size", shuffleconfig.DefaultBatchSize, "rows per insert_batch call and per serialized sub-batch frame")
	flag.Int64Var(&dashBudget, "budget", 0, "memory manager byte budget (0 picks a fraction of detected host memory)")
	flag.BoolVar(&dashCompress, "compress", false, "zstd-compress serialized sub-batches")
	flag.StringVar(&dashOutDir, "o", ".", "output directory for data.bin and index.bin")
}

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f, args...)
	os.Exit(1)
}

func logf(f string, args ...interface{}) {
	if f[len(f)-1] != '\n' {
		f += "\n"
	}
	fmt.Fprintf(os.Stderr, f, args...)
}

func schema() rowbatch.Schema {
	return rowbatch.Schema{Fields: []rowbatch.Field{
		{Name: "key", Type: rowbatch.Int64},
		{Name: "value", Type: rowbatch.String},
	}}
}

func rule(name string, numPartitions int) partitioning.Rule {
	switch name {
	case "hash":
		return partitioning.NewHash("key")
	case "round-robin":
		return partitioning.RoundRobin{}
	case "range":
		bounds := make([]int64, numPartitions-1)
		step := int64(uint64(1) << 62 / uint64(numPartitions))
		for i := range bounds {
			bounds[i] = step * int64(i+1)
		}
		return partitioning.Range{By: "key", Bounds: bounds}
	default:
		exitf("unknown partitioning rule %q\n", name)
		return nil
	}
}

func syntheticBatch(sc rowbatch.Schema, start, n int) *rowbatch.ColumnBatch {
	b := rowbatch.NewBuilder(sc)
	for i := 0; i < n; i++ {
		k := int64(start + i)
		b.AppendInt64("key", k).AppendString("value", fmt.Sprintf("row-%d", k)).Row()
	}
	batch, err := b.Batch()
	if err != nil {
		exitf("building synthetic batch: %s\n", err)
	}
	return batch
}

func main() {
	flag.Parse()

	numPartitions := dashN
	ruleName := dashRule
	batchSize := dashBatchSize
	if dashConfig != "" {
		doc, err := os.ReadFile(dashConfig)
		if err != nil {
			exitf("reading config: %s\n", err)
		}
		cfg, err := shuffleconfig.Load(doc)
		if err != nil {
			exitf("loading config: %s\n", err)
		}
		numPartitions = cfg.NumOutputPartitions
		ruleName = cfg.PartitioningRule
		batchSize = cfg.BatchSize
	}

	sc := schema()
	mgr := memmgr.NewManager(dashBudget)
	dm := diskmgr.NewLocalManager("")
	r, err := shuffle.New(shuffle.Options{
		NumPartitions: numPartitions,
		Schema:        sc,
		Rule:          rule(ruleName, numPartitions),
		Compress:      dashCompress,
		BatchSize:     batchSize,
		Manager:       mgr,
		DiskMgr:       dm,
		ConsumerID:    memmgr.ConsumerID{Name: "shufflewrite", Partition: 0},
	})
	if err != nil {
		exitf("creating repartitioner: %s\n", err)
	}
	defer r.Close()

	ctx := context.Background()
	inserted := 0
	for inserted < dashRows {
		n := batchSize
		if inserted+n > dashRows {
			n = dashRows - inserted
		}
		b := syntheticBatch(sc, inserted, n)
		if err := r.InsertBatch(ctx, b); err != nil {
			exitf("insert_batch: %s\n", err)
		}
		inserted += n
		if dashv {
			logf("inserted %d/%d rows, mem_used=%d", inserted, dashRows, r.MemUsed())
		}
	}

	dataPath := dashOutDir + "/data.bin"
	indexPath := dashOutDir + "/index.bin"
	dataFile, err := os.Create(dataPath)
	if err != nil {
		exitf("creating %s: %s\n", dataPath, err)
	}
	defer dataFile.Close()
	indexFile, err := os.Create(indexPath)
	if err != nil {
		exitf("creating %s: %s\n", indexPath, err)
	}
	defer indexFile.Close()

	if err := r.ShuffleWrite(ctx, dataFile, indexFile); err != nil {
		exitf("shuffle_write: %s\n", err)
	}
	logf("wrote %s and %s across %d partitions", dataPath, indexPath, numPartitions)
}
