package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/sushant-115/gojodb-pagestore/core/storage_engine/prefetch"
	flushmanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/flush_manager"
	"github.com/sushant-115/gojodb-pagestore/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/page_manager"
	"github.com/sushant-115/gojodb-pagestore/pkg/logger"
)

func main() {
	dataDir := flag.String("dir", "/tmp/gojodb", "directory for the benchmark file")
	pages := flag.Int("pages", 1024, "pages to allocate")
	accesses := flag.Int("accesses", 20000, "page requests to issue")
	capacity := flag.Int("capacity", 64, "buffer pool capacity")
	hotFraction := flag.Float64("hot", 0.1, "fraction of pages receiving most accesses")
	writeRatio := flag.Float64("writes", 0.2, "fraction of accesses that modify the page")
	readAhead := flag.Bool("prefetch", false, "put read-ahead in front of the store")
	flag.Parse()

	zlogger, err := logger.New(logger.Config{Level: "error"})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("failed to create %s: %v", *dataDir, err)
	}
	dbPath := filepath.Join(*dataDir, "pagestore_bench.db")
	_ = os.Remove(dbPath)

	dm, err := flushmanager.NewDiskManager(dbPath, zlogger.Named("disk_manager"), nil)
	if err != nil {
		log.Fatalf("failed to open page store: %v", err)
	}
	defer dm.Close()

	start := time.Now()
	ids, err := dm.AllocatePages(*pages)
	if err != nil {
		log.Fatalf("failed to allocate pages: %v", err)
	}
	log.Printf("Allocated %d pages in %s", len(ids), time.Since(start))

	var store memtable.PageStore = dm
	var ra *prefetch.ReadAheadStore
	if *readAhead {
		if ra, err = prefetch.NewReadAheadStore(dm, prefetch.DefaultOptions(), zlogger, nil); err != nil {
			log.Fatalf("failed to start read-ahead: %v", err)
		}
		store = ra
	}

	bpm, err := memtable.NewBufferPoolManager(*capacity, store, zlogger, nil)
	if err != nil {
		log.Fatalf("failed to create buffer pool: %v", err)
	}

	start = time.Now()
	if err := runWorkload(bpm, ids, *accesses, *hotFraction, *writeRatio, zlogger); err != nil {
		log.Fatalf("workload failed: %v", err)
	}
	if err := bpm.Close(); err != nil {
		log.Fatalf("failed to close buffer pool: %v", err)
	}
	elapsed := time.Since(start)

	st := bpm.Stats()
	fmt.Printf("accesses=%d capacity=%d elapsed=%s\n", *accesses, *capacity, elapsed)
	fmt.Printf("hits=%d misses=%d hit_ratio=%.3f evictions=%d writebacks=%d\n",
		st.Hits, st.Misses, st.HitRatio(), st.Evictions, st.WriteBacks)
	if ra != nil {
		if err := ra.Close(); err != nil {
			log.Printf("read-ahead close: %v", err)
		}
		rs := ra.Stats()
		fmt.Printf("prefetch hits=%d issued=%d dropped=%d\n", rs.Hits, rs.Issued, rs.Dropped)
	}
}

// runWorkload sends most requests to a small hot set and the rest uniformly, stamping
// a counter into written pages.
func runWorkload(bpm *memtable.BufferPoolManager, ids []pagemanager.PageID, accesses int, hotFraction, writeRatio float64, zlogger *zap.Logger) error {
	if len(ids) == 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(42))
	hot := max(1, int(float64(len(ids))*hotFraction))
	for i := 0; i < accesses; i++ {
		var id pagemanager.PageID
		if rng.Float64() < 0.8 {
			id = ids[rng.Intn(hot)]
		} else {
			id = ids[rng.Intn(len(ids))]
		}
		page, err := bpm.GetPage(id)
		if err != nil {
			return err
		}
		if rng.Float64() < writeRatio {
			if err := page.SetInt64(0, int64(i)); err != nil {
				return err
			}
			bpm.MarkDirty(id)
		}
	}
	zlogger.Debug("Workload finished", zap.Int("accesses", accesses))
	return nil
}
