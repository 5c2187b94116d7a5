package imagestore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "images")
	s, err := NewLocalStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	img := []byte{0xff, 0xd8, 0xff}

	ref, err := s.Save(ctx, "scan-1", img)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ref != filepath.Join(dir, "scan-1.jpg") {
		t.Fatalf("ref=%q", ref)
	}
	got, err := os.ReadFile(ref)
	if err != nil || !bytes.Equal(got, img) {
		t.Fatalf("stored=%v, %v", got, err)
	}

	if err := s.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(ref); !os.IsNotExist(err) {
		t.Fatalf("file still present: %v", err)
	}
	if err := s.Delete(ctx, ref); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if err := s.Delete(ctx, ""); err != nil {
		t.Fatalf("empty ref: %v", err)
	}
}

func TestLocalStoreRejectsEscapes(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"", "../x", "a/b", `a\b`} {
		if _, err := s.Save(context.Background(), id, []byte{1}); err == nil {
			t.Fatalf("Save(%q) should fail", id)
		}
	}
	if err := s.Delete(context.Background(), "/etc/passwd"); err == nil {
		t.Fatal("Delete outside the store should fail")
	}
}

func TestParseGCSRef(t *testing.T) {
	bucket, object, err := ParseGCSRef("gs://labels/scans/abc.jpg")
	if err != nil || bucket != "labels" || object != "scans/abc.jpg" {
		t.Fatalf("got %q %q %v", bucket, object, err)
	}
	for _, bad := range []string{"labels/scans/abc.jpg", "gs://labels", "gs:///abc.jpg", "gs://labels/"} {
		if _, _, err := ParseGCSRef(bad); err == nil {
			t.Fatalf("ParseGCSRef(%q) should fail", bad)
		}
	}
}
