package bench

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/MikhailWahib/stratadb"
)

func benchConfig(compression string) *stratadb.Config {
	cfg := stratadb.DefaultConfig()
	cfg.BufferEntries = 4096
	cfg.Depth = 6
	cfg.Fanout = 8
	cfg.Compression = compression
	cfg.SyncWAL = false
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func setupBenchDB(b *testing.B, cfg *stratadb.Config) *stratadb.DB {
	db, err := stratadb.Open(b.TempDir(), cfg)
	if err != nil {
		b.Fatalf("Failed to open database: %v", err)
	}
	b.Cleanup(func() { _ = db.Close() })
	return db
}

func generateKey(i int) []byte {
	return fmt.Appendf(nil, "key_%010d", i)
}

func generateValue(size int) []byte {
	value := make([]byte, size)
	for i := range value {
		value[i] = byte('a' + rand.Intn(26))
	}
	return value
}

func populate(b *testing.B, db *stratadb.DB, numKeys int) {
	value := generateValue(1024)
	for i := range numKeys {
		if err := db.Put(generateKey(i), value); err != nil {
			b.Fatalf("Pre-populate put failed: %v", err)
		}
	}
}

func BenchmarkWrite(b *testing.B) {
	for _, codec := range []string{"none", "zstd", "lz4"} {
		b.Run(codec, func(b *testing.B) {
			db := setupBenchDB(b, benchConfig(codec))
			value := generateValue(1024)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := db.Put(generateKey(i), value); err != nil {
					b.Fatalf("Put failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkRead(b *testing.B) {
	db := setupBenchDB(b, benchConfig("none"))
	numKeys := 10000
	populate(b, db, numKeys)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, found, err := db.Get(generateKey(i % numKeys))
		if err != nil || !found {
			b.Fatalf("key not found: %v", err)
		}
	}
}

func BenchmarkRandomRead(b *testing.B) {
	db := setupBenchDB(b, benchConfig("none"))
	numKeys := 10000
	populate(b, db, numKeys)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, found, err := db.Get(generateKey(rand.Intn(numKeys)))
		if err != nil || !found {
			b.Fatalf("key not found: %v", err)
		}
	}
}

func BenchmarkConcurrentRead(b *testing.B) {
	db := setupBenchDB(b, benchConfig("none"))
	numKeys := 10000
	populate(b, db, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, found, err := db.Get(generateKey(rand.Intn(numKeys)))
			if err != nil || !found {
				b.Errorf("key not found: %v", err)
				return
			}
		}
	})
}

func BenchmarkConcurrentWrite(b *testing.B) {
	db := setupBenchDB(b, benchConfig("none"))
	value := generateValue(1024)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			// Use unique keys to avoid collisions across goroutines
			key := fmt.Appendf(nil, "key_%d_%d", rand.Int63(), i)
			if err := db.Put(key, value); err != nil {
				b.Errorf("Put failed: %v", err)
				return
			}
			i++
		}
	})
}

func BenchmarkRange(b *testing.B) {
	db := setupBenchDB(b, benchConfig("none"))
	numKeys := 10000
	populate(b, db, numKeys)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		start := rand.Intn(numKeys - 100)
		values, err := db.Range(generateKey(start), generateKey(start+100))
		if err != nil || len(values) != 100 {
			b.Fatalf("range returned %d values: %v", len(values), err)
		}
	}
}
