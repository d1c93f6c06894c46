package benchmark

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"strings"
	"testing"

	"github.com/TheMichaelB/stowage/internal/paths"
	"github.com/TheMichaelB/stowage/internal/reconcile"
	"github.com/TheMichaelB/stowage/internal/storage"
	"github.com/TheMichaelB/stowage/test/testutil"
)

func newStore(b *testing.B, strategy storage.ConflictStrategy) *storage.LocalStore {
	b.Helper()
	store, err := storage.NewLocalStore(b.TempDir(), testutil.NewTestLogger())
	if err != nil {
		b.Fatal(err)
	}
	store.SetConflictStrategy(strategy)
	return store
}

func BenchmarkLocalStoreSave(b *testing.B) {
	store := newStore(b, storage.ConflictOverwrite)

	sizes := []int{
		1024,    // 1KB
		102400,  // 100KB
		1048576, // 1MB
	}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("%dKB", size/1024), func(b *testing.B) {
			data := make([]byte, size)
			rand.Read(data)

			b.ResetTimer()
			b.ReportAllocs()
			b.SetBytes(int64(size))

			for i := 0; i < b.N; i++ {
				name := fmt.Sprintf("bench/file_%d.dat", i)
				if _, err := store.Save(name, bytes.NewReader(data)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkLocalStoreRead(b *testing.B) {
	store := newStore(b, storage.ConflictOverwrite)

	data := make([]byte, 102400)
	rand.Read(data)
	if _, err := store.Save("bench/read.dat", bytes.NewReader(data)); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	b.SetBytes(int64(len(data)))

	for i := 0; i < b.N; i++ {
		if _, err := store.Read("bench/read.dat"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLocalStoreConflictRename(b *testing.B) {
	store := newStore(b, storage.ConflictRename)
	data := []byte("downloaded twice")

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		// Each batch of names fills the rename attempts of one base name.
		name := fmt.Sprintf("photo_%d.png", i/50)
		if _, err := store.Save(name, bytes.NewReader(data)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLocalStoreConcurrent(b *testing.B) {
	store := newStore(b, storage.ConflictOverwrite)

	data := make([]byte, 1024)
	rand.Read(data)
	for i := 0; i < 100; i++ {
		if _, err := store.Save(fmt.Sprintf("bench/concurrent_%d.dat", i), bytes.NewReader(data)); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			name := fmt.Sprintf("bench/concurrent_%d.dat", i%100)
			switch i % 3 {
			case 0:
				store.Read(name)
			case 1:
				store.Exists(name)
			case 2:
				store.Stat(name)
			}
			i++
		}
	})
}

func BenchmarkNormalize(b *testing.B) {
	inputs := []string{
		"",
		"/",
		"docs",
		"./docs/2024/",
		"//a//b/",
		"photos/2024/summer/beach.png",
		strings.Repeat("deep/", 30),
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		paths.Normalize(inputs[i%len(inputs)])
	}
}

func BenchmarkApplyUpload(b *testing.B) {
	listing := testutil.SampleListing()

	submitted := make([]reconcile.Submission, 50)
	for i := range submitted {
		submitted[i] = reconcile.Submission{
			Name:     fmt.Sprintf("upload_%d.png", i),
			Size:     1024,
			MimeType: "image/png",
		}
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		reconcile.ApplyUpload(listing, "docs/", submitted, nil, reconcile.UploadContext{})
	}
}
