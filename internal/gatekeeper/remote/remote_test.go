package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxpark/gatekeeper/internal/gatekeeper/types"
)

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestTransactionSinkSendsJSON(t *testing.T) {
	var got types.Transaction
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink := NewTransactionSink(srv.URL, "secret", time.Second, silentLogger())
	tx := types.Transaction{ID: "abc", Card: "5001", Status: types.StatusGranted, Timestamp: 100}
	if err := sink.Send(context.Background(), tx); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.ID != "abc" || got.Card != "5001" {
		t.Errorf("server received %+v", got)
	}
	if gotKey != "secret" {
		t.Errorf("X-API-Key = %q", gotKey)
	}
}

func TestTransactionSinkRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewTransactionSink(srv.URL, "", time.Second, silentLogger())
	err := sink.Send(context.Background(), types.Transaction{ID: "abc"})
	if err == nil {
		t.Fatal("expected error on 502")
	}
	if errors.Is(err, ErrPermanent) {
		t.Error("502 must stay retryable")
	}
}

func writeTempImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "5001_r1_170000.jpg")
	if err := os.WriteFile(path, []byte("jpegdata"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMultipartBlobSinkUploadsAndReturnsLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "5001_r1_170000.jpg" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		data, _ := io.ReadAll(f)
		if string(data) != "jpegdata" {
			t.Errorf("file content = %q", data)
		}
		json.NewEncoder(w).Encode(map[string]string{"location": "https://cdn.example.com/5001.jpg"})
	}))
	defer srv.Close()

	sink := NewMultipartBlobSink(srv.URL, "", 45*time.Second, silentLogger())
	loc, err := sink.Upload(context.Background(), writeTempImage(t))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if loc != "https://cdn.example.com/5001.jpg" {
		t.Errorf("location = %q", loc)
	}
}

func TestMultipartBlobSink413IsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	sink := NewMultipartBlobSink(srv.URL, "", time.Second, silentLogger())
	_, err := sink.Upload(context.Background(), writeTempImage(t))
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("413 should be permanent, got %v", err)
	}
}

func TestMultipartBlobSinkServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewMultipartBlobSink(srv.URL, "", time.Second, silentLogger())
	_, err := sink.Upload(context.Background(), writeTempImage(t))
	if err == nil {
		t.Fatal("expected error on 500")
	}
	if errors.Is(err, ErrPermanent) {
		t.Error("500 must stay retryable")
	}
}

func TestJSONSinkSendsFileContents(t *testing.T) {
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "doc.json")
	if err := os.WriteFile(path, []byte(`{"card":"5001"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	sink := NewJSONSink(srv.URL, "", time.Second, silentLogger())
	if err := sink.Send(context.Background(), path); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(got) != `{"card":"5001"}` {
		t.Errorf("server received %q", got)
	}
}

func TestCommandSourcePendingAndAck(t *testing.T) {
	var acked string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode([]RelayCommand{{ID: "cmd-1", Relay: 2, Action: "open_hold"}})
		case http.MethodPost:
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			acked = body["id"]
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	src := NewCommandSource(srv.URL, "", time.Second)
	cmds, err := src.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(cmds) != 1 || cmds[0].Relay != 2 || cmds[0].Action != "open_hold" {
		t.Fatalf("Pending = %+v", cmds)
	}
	if err := src.Ack(context.Background(), cmds[0].ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if acked != "cmd-1" {
		t.Errorf("server acked %q", acked)
	}
}
