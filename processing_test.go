package resourcekit

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"testing"
)

func TestProcessingSubfolderNames(t *testing.T) {
	id := "/user_upload/photo.jpg"
	sum := sha256.Sum256([]byte(id))
	hash := hex.EncodeToString(sum[:])

	got := ProcessingSubfolderNames(id, 2)
	if len(got) != 2 || got[0] != hash[1:2] || got[1] != hash[2:3] {
		t.Errorf("ProcessingSubfolderNames() = %v, want [%s %s]", got, hash[1:2], hash[2:3])
	}

	if got := ProcessingSubfolderNames(id, 0); got != nil {
		t.Errorf("ProcessingSubfolderNames(0) = %v, want nil", got)
	}
	if got := ProcessingSubfolderNames(id, 100); len(got) != len(hash)-1 {
		t.Errorf("ProcessingSubfolderNames(100) has %d levels, want %d", len(got), len(hash)-1)
	}
	again := ProcessingSubfolderNames(id, 2)
	if again[0] != got[0] || again[1] != got[1] {
		t.Error("placement must be stable")
	}
}

func TestProcessedFileName(t *testing.T) {
	a := processedChecksum("1:/a.jpg", "Image.CropScaleMask", map[string]string{"width": "100", "height": "50"})
	b := processedChecksum("1:/a.jpg", "Image.CropScaleMask", map[string]string{"height": "50", "width": "100"})
	if a != b {
		t.Errorf("checksum depends on map order: %s != %s", a, b)
	}
	if c := processedChecksum("1:/a.jpg", "Image.CropScaleMask", map[string]string{"width": "200", "height": "50"}); c == a {
		t.Error("checksum must change with the configuration")
	}
	if c := processedChecksum("2:/a.jpg", "Image.CropScaleMask", map[string]string{"width": "100", "height": "50"}); c == a {
		t.Error("checksum must change with the original")
	}
	if len(a) != 10 {
		t.Errorf("checksum %q should have 10 characters", a)
	}

	name := processedFileName("Image.CropScaleMask", "holiday photo.jpg", a)
	if !regexp.MustCompile(`^image_cropscalemask_holiday photo_[0-9a-f]{10}\.jpg$`).MatchString(name) {
		t.Errorf("processedFileName() = %q", name)
	}
}

func TestSplitProcessingFolder(t *testing.T) {
	tests := []struct {
		in      string
		uid     int
		id      string
		foreign bool
	}{
		{in: "_processed_"},
		{in: "2:/shared/processed/", uid: 2, id: "/shared/processed/", foreign: true},
		{in: "x:/a/"},
	}
	for _, tt := range tests {
		uid, id, ok := splitProcessingFolder(tt.in)
		if uid != tt.uid || id != tt.id || ok != tt.foreign {
			t.Errorf("splitProcessingFolder(%q) = (%d, %q, %v)", tt.in, uid, id, ok)
		}
	}
}
