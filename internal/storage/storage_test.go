package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func pngBytes(t *testing.T, w, h int, fill func(x, y int) color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill(x, y))
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func gradient(x, y int) color.Color {
	return color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255}
}

func checker(x, y int) color.Color {
	if (x/32+y/32)%2 == 0 {
		return color.RGBA{A: 255}
	}
	return color.RGBA{R: 255, G: 255, B: 255, A: 255}
}

func newLocal(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "images"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return s
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "png", input: "task123.png", want: "task123.png"},
		{name: "trimmed", input: "  a.jpg ", want: "a.jpg"},
		{name: "upper case extension", input: "a.JPEG", want: "a.JPEG"},
		{name: "empty", input: "", wantErr: true},
		{name: "traversal", input: "../secret.png", wantErr: true},
		{name: "nested", input: "dir/a.png", wantErr: true},
		{name: "backslash", input: `dir\a.png`, wantErr: true},
		{name: "hidden", input: ".a.png", wantErr: true},
		{name: "not an image", input: "images.json", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeName(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidName) {
					t.Fatalf("SanitizeName(%q) error = %v, want ErrInvalidName", tt.input, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("SanitizeName(%q) = %q, %v; want %q", tt.input, got, err, tt.want)
			}
		})
	}
}

func TestGenerateFilename(t *testing.T) {
	if got := GenerateFilename("abc", ""); got != "abc.png" {
		t.Errorf("default ext = %q", got)
	}
	if got := GenerateFilename("abc", ".JPG"); got != "abc.jpg" {
		t.Errorf("ext normalization = %q", got)
	}
}

func TestContentType(t *testing.T) {
	for name, want := range map[string]string{
		"a.png": "image/png", "a.jpg": "image/jpeg", "a.JPEG": "image/jpeg",
		"a.webp": "image/webp", "a.gif": "image/gif",
	} {
		if got := ContentType(name); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	data := pngBytes(t, 8, 8, gradient)

	if err := s.Save(ctx, "b.png", data); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, "a.png", data); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.WriteJSON(ctx, "images.json", map[string]int{"n": 2}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	got, ct, err := s.Open(ctx, "a.png")
	if err != nil || !bytes.Equal(got, data) || ct != "image/png" {
		t.Fatalf("Open = %d bytes, %q, %v", len(got), ct, err)
	}

	objs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objs) != 2 || objs[0].Name != "a.png" || objs[1].Name != "b.png" {
		t.Fatalf("List = %+v, want a.png and b.png only", objs)
	}
	if objs[0].Size != int64(len(data)) {
		t.Errorf("size = %d, want %d", objs[0].Size, len(data))
	}

	var doc map[string]int
	found, err := s.ReadJSON(ctx, "images.json", &doc)
	if err != nil || !found || doc["n"] != 2 {
		t.Fatalf("ReadJSON = %v, %v, %v", doc, found, err)
	}
	found, err = s.ReadJSON(ctx, "missing.json", &doc)
	if err != nil || found {
		t.Fatalf("ReadJSON(missing) = %v, %v", found, err)
	}

	if err := s.Delete(ctx, "a.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := s.Open(ctx, "a.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open after delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "a.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
	if err := s.Save(ctx, "../x.png", data); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Save traversal = %v, want ErrInvalidName", err)
	}
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	c := NewCatalog(s, "images.json", nil)

	grad := pngBytes(t, 64, 64, gradient)
	board := pngBytes(t, 64, 64, checker)

	first, err := c.Add(ctx, "one.png", grad)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if first.DuplicateOf != "" || first.SHA256 == "" {
		t.Fatalf("first entry = %+v", first)
	}

	other, err := c.Add(ctx, "two.png", board)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if other.DuplicateOf != "" {
		t.Errorf("distinct image flagged as duplicate of %q", other.DuplicateOf)
	}

	dup, err := c.Add(ctx, "three.png", grad)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if dup.DuplicateOf != "one.png" {
		t.Errorf("DuplicateOf = %q, want one.png", dup.DuplicateOf)
	}

	// A fresh catalog reads the persisted index.
	reloaded := NewCatalog(s, "images.json", nil)
	entries, err := reloaded.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 3 || entries["three.png"].DuplicateOf != "one.png" {
		t.Fatalf("entries = %+v", entries)
	}

	if err := reloaded.Remove(ctx, "one.png", "unknown.png"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	entries, _ = reloaded.Entries(ctx)
	if _, ok := entries["one.png"]; ok || len(entries) != 2 {
		t.Errorf("after remove = %+v", entries)
	}

	if _, err := c.Add(ctx, "bad.png", []byte("not an image")); err == nil {
		t.Error("Add accepted undecodable bytes")
	}
}

func TestHammingDistance(t *testing.T) {
	if d := HammingDistance(0b1011, 0b0001); d != 2 {
		t.Errorf("HammingDistance = %d, want 2", d)
	}
	if d := HammingDistance(42, 42); d != 0 {
		t.Errorf("HammingDistance(self) = %d", d)
	}
}

func TestJanitorSweep(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	c := NewCatalog(s, "images.json", nil)
	data := pngBytes(t, 16, 16, gradient)

	for _, name := range []string{"old.png", "new.png"} {
		if err := s.Save(ctx, name, data); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if _, err := c.Add(ctx, name, data); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	old := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(filepath.Join(s.Dir(), "old.png"), old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	j, err := NewJanitor(s, c, time.Hour, "@hourly", nil)
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}
	n, err := j.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Sweep = %d, %v; want 1", n, err)
	}

	objs, _ := s.List(ctx)
	if len(objs) != 1 || objs[0].Name != "new.png" {
		t.Errorf("remaining = %+v", objs)
	}
	entries, _ := c.Entries(ctx)
	if _, ok := entries["old.png"]; ok {
		t.Error("catalog still lists old.png")
	}

	// Nothing else is old enough.
	if n, _ := j.Sweep(ctx); n != 0 {
		t.Errorf("second sweep removed %d", n)
	}
}

func TestNewJanitorValidation(t *testing.T) {
	s := newLocal(t)
	if _, err := NewJanitor(s, nil, 0, "@hourly", nil); err == nil {
		t.Error("zero max age accepted")
	}
	if _, err := NewJanitor(s, nil, time.Hour, "every now and then", nil); err == nil {
		t.Error("bad schedule accepted")
	}
}

func TestJanitorRunStopsOnCancel(t *testing.T) {
	j, err := NewJanitor(newLocal(t), nil, time.Hour, "@hourly", nil)
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
