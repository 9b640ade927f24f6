package testsupport

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"videoxt/internal/textutil"
)

// CameraDir returns the directory of one camera inside a media tree.
func CameraDir(root, dataset, camera string) string {
	return filepath.Join(root, dataset, textutil.EscapeSegment(camera))
}

// WriteFrames writes a solid JPEG of the given size for each timestamp.
func WriteFrames(t testing.TB, root, dataset, camera string, width, height int, timestamps ...float64) {
	t.Helper()
	dir := filepath.Join(CameraDir(root, dataset, camera), "frames")
	for _, ts := range timestamps {
		WriteJPEG(t, filepath.Join(dir, textutil.FormatTimestamp(ts)+".jpg"), width, height)
	}
}

// WriteJPEG writes a solid gray JPEG image.
func WriteJPEG(t testing.TB, path string, width, height int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = color.Gray{Y: 0x80}.Y
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

// WriteSeries stores a series CSV for a camera.
func WriteSeries(t testing.TB, root, dataset, camera, name, csv string) {
	t.Helper()
	WriteText(t, filepath.Join(CameraDir(root, dataset, camera), "series", name+".csv"), csv)
}

// WriteAnnotations stores a canonical annotation CSV for a camera.
func WriteAnnotations(t testing.TB, root, dataset, camera, kind, csv string) {
	t.Helper()
	WriteText(t, filepath.Join(CameraDir(root, dataset, camera), "annotations", kind+".csv"), csv)
}

// WriteText writes content to path, creating parent directories.
func WriteText(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
