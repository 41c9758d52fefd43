package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxpark/gatekeeper/internal/config"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/types"
	"github.com/maxpark/gatekeeper/internal/jsonfile"
)

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeGrabber struct {
	frames  [][]byte
	errs    []error
	calls   int
	lastURL string
}

func (g *fakeGrabber) Grab(_ context.Context, url string) ([]byte, error) {
	g.lastURL = url
	i := g.calls
	g.calls++
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	if i < len(g.frames) {
		return g.frames[i], nil
	}
	return []byte("frame"), nil
}

func newTestService(t *testing.T, g FrameGrabber) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	readers := []config.ReaderConfig{{ID: 1, StreamURL: "rtsp://cam-1/stream"}}
	svc := NewService(g, dir, readers, config.NewRuntime(), silentLogger())
	svc.sleep = func(time.Duration) {}
	return svc, dir
}

func TestCaptureSavesCanonicalFilename(t *testing.T) {
	g := &fakeGrabber{frames: [][]byte{[]byte("jpeg-bytes")}}
	svc, dir := newTestService(t, g)

	tx := types.Transaction{ID: "x", Card: "5001", Reader: 1, Timestamp: 1700000000}
	path, err := svc.Capture(context.Background(), tx)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	want := filepath.Join(dir, "5001_r1_1700000000.jpg")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "jpeg-bytes" {
		t.Errorf("saved content = %q", data)
	}
	if g.lastURL != "rtsp://cam-1/stream" {
		t.Errorf("grabbed from %q", g.lastURL)
	}
}

func TestCaptureRetriesOnceThenSucceeds(t *testing.T) {
	g := &fakeGrabber{
		errs:   []error{errors.New("stream stall"), nil},
		frames: [][]byte{nil, []byte("second-try")},
	}
	svc, _ := newTestService(t, g)

	path, err := svc.Capture(context.Background(), types.Transaction{ID: "x", Card: "5001", Reader: 1, Timestamp: 1})
	if err != nil {
		t.Fatalf("Capture after retry: %v", err)
	}
	if g.calls != 2 {
		t.Errorf("grab calls = %d, want 2", g.calls)
	}
	if path == "" {
		t.Error("expected a saved path")
	}
}

func TestCaptureGivesUpAfterRetries(t *testing.T) {
	g := &fakeGrabber{errs: []error{errors.New("down"), errors.New("down")}}
	svc, _ := newTestService(t, g)

	_, err := svc.Capture(context.Background(), types.Transaction{ID: "x", Card: "5001", Reader: 1, Timestamp: 1})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if g.calls != 2 {
		t.Errorf("grab calls = %d, want 2", g.calls)
	}
}

func TestCaptureSkipsDisabledCamera(t *testing.T) {
	g := &fakeGrabber{}
	svc, _ := newTestService(t, g)
	svc.settings.Update(func(s *config.Settings) { s.CameraEnabled[1] = false })

	path, err := svc.Capture(context.Background(), types.Transaction{ID: "x", Card: "5001", Reader: 1, Timestamp: 1})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if path != "" || g.calls != 0 {
		t.Errorf("disabled camera still captured: path=%q calls=%d", path, g.calls)
	}
}

func TestWriteDocumentEmbedsImage(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "5001_r1_100.jpg")
	if err := os.WriteFile(imgPath, []byte("jpegdata"), 0o644); err != nil {
		t.Fatal(err)
	}

	tx := types.Transaction{ID: "doc-1", Card: "5001", Reader: 1, Timestamp: 100}
	pending := filepath.Join(dir, "pending")
	path, err := WriteDocument(pending, tx, imgPath)
	if err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}
	if filepath.Base(path) != "doc-1.json" {
		t.Errorf("document named %q", filepath.Base(path))
	}

	var doc Document
	ok, err := jsonfile.Read(path, &doc)
	if err != nil || !ok {
		t.Fatalf("read document back: ok=%v err=%v", ok, err)
	}
	if doc.Transaction.ID != "doc-1" || doc.ImageName != "5001_r1_100.jpg" {
		t.Errorf("document = %+v", doc)
	}
	if string(doc.ImageData) != "jpegdata" {
		t.Errorf("image data = %q", doc.ImageData)
	}
}

func TestWriteDocumentWithoutImage(t *testing.T) {
	dir := t.TempDir()
	tx := types.Transaction{ID: "doc-2", Card: "5002", Reader: 2, Timestamp: 100}
	path, err := WriteDocument(dir, tx, "")
	if err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}
	var doc Document
	if _, err := jsonfile.Read(path, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.ImageName != "" || len(doc.ImageData) != 0 {
		t.Errorf("expected no image fields, got %+v", doc)
	}
}
