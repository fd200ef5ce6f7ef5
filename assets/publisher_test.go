package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// jpegBytes is a minimal JPEG header, enough for content-type sniffing.
var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46}

// s3Fake speaks just enough of the S3 wire protocol for the minio client:
// bucket location, bucket existence, bucket creation, and object PUT.
type s3Fake struct {
	bucketExists bool
	madeBucket   bool
	failPuts     bool

	putPath        string
	putContentType string
	putBody        []byte
}

func (f *s3Fake) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		isBucketPath := strings.Count(strings.Trim(r.URL.Path, "/"), "/") == 0

		switch {
		case r.Method == http.MethodGet && r.URL.Query().Has("location"):
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/">us-east-1</LocationConstraint>`)

		case r.Method == http.MethodHead && isBucketPath:
			if f.bucketExists {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}

		case r.Method == http.MethodPut && isBucketPath:
			f.madeBucket = true
			f.bucketExists = true
			w.WriteHeader(http.StatusOK)

		case r.Method == http.MethodPut:
			if f.failPuts {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>InvalidArgument</Code><Message>rejected</Message></Error>`)
				return
			}
			f.putPath = r.URL.Path
			f.putContentType = r.Header.Get("Content-Type")
			f.putBody, _ = io.ReadAll(r.Body)
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
			w.WriteHeader(http.StatusOK)

		default:
			w.WriteHeader(http.StatusOK)
		}
	}
}

func newTestPublisher(t *testing.T, fake *s3Fake) (*Publisher, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	publisher, err := NewPublisher(Config{
		Endpoint:        strings.TrimPrefix(server.URL, "http://"),
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		Bucket:          "shopreel-media",
	})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}
	return publisher, server
}

func TestNewPublisher_Validation(t *testing.T) {
	t.Run("missing endpoint", func(t *testing.T) {
		_, err := NewPublisher(Config{Bucket: "shopreel-media"})
		if err == nil {
			t.Fatal("expected error for missing endpoint")
		}
	})

	t.Run("missing bucket", func(t *testing.T) {
		_, err := NewPublisher(Config{Endpoint: "localhost:9000"})
		if err == nil {
			t.Fatal("expected error for missing bucket")
		}
	})
}

func TestPublisher_Publish(t *testing.T) {
	t.Run("stores the object and returns its URL", func(t *testing.T) {
		fake := &s3Fake{bucketExists: true}
		publisher, server := newTestPublisher(t, fake)

		url, err := publisher.Publish(context.Background(), jpegBytes, "job-1/processed-9f86d081.jpg")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		endpoint := strings.TrimPrefix(server.URL, "http://")
		want := "http://" + endpoint + "/shopreel-media/job-1/processed-9f86d081.jpg"
		if url != want {
			t.Errorf("expected URL %s, got %s", want, url)
		}

		if fake.putPath != "/shopreel-media/job-1/processed-9f86d081.jpg" {
			t.Errorf("unexpected object path: %s", fake.putPath)
		}
		if fake.putContentType != "image/jpeg" {
			t.Errorf("expected sniffed content type image/jpeg, got %s", fake.putContentType)
		}
		// The transport may frame the payload, so look for it rather
		// than comparing whole bodies.
		if !bytes.Contains(fake.putBody, jpegBytes) {
			t.Error("uploaded body does not carry the payload")
		}
	})

	t.Run("configured public base URL wins over the endpoint", func(t *testing.T) {
		publisher, err := NewPublisher(Config{
			Endpoint:      "localhost:9000",
			Bucket:        "shopreel-media",
			PublicBaseURL: "https://cdn.example.com/media/",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		got := publisher.PublicURL("job-1/processed.jpg")
		if got != "https://cdn.example.com/media/job-1/processed.jpg" {
			t.Errorf("unexpected public URL: %s", got)
		}
	})

	t.Run("endpoint URL form respects the SSL setting", func(t *testing.T) {
		publisher, err := NewPublisher(Config{
			Endpoint: "storage.example.com",
			Bucket:   "shopreel-media",
			UseSSL:   true,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		got := publisher.PublicURL("k.jpg")
		if got != "https://storage.example.com/shopreel-media/k.jpg" {
			t.Errorf("unexpected public URL: %s", got)
		}
	})

	t.Run("empty payload is rejected", func(t *testing.T) {
		fake := &s3Fake{bucketExists: true}
		publisher, _ := newTestPublisher(t, fake)

		_, err := publisher.Publish(context.Background(), nil, "job-1/x.jpg")
		if err == nil {
			t.Fatal("expected error for empty payload")
		}
	})

	t.Run("empty key is rejected", func(t *testing.T) {
		fake := &s3Fake{bucketExists: true}
		publisher, _ := newTestPublisher(t, fake)

		_, err := publisher.Publish(context.Background(), jpegBytes, "")
		if err == nil {
			t.Fatal("expected error for empty key")
		}
	})

	t.Run("storage failures are wrapped with the key", func(t *testing.T) {
		fake := &s3Fake{bucketExists: true, failPuts: true}
		publisher, _ := newTestPublisher(t, fake)

		_, err := publisher.Publish(context.Background(), jpegBytes, "job-1/x.jpg")
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(err.Error(), "failed to store object job-1/x.jpg") {
			t.Errorf("expected wrapped storage error, got: %v", err)
		}
	})
}

func TestPublisher_EnsureBucket(t *testing.T) {
	t.Run("creates the bucket when missing", func(t *testing.T) {
		fake := &s3Fake{bucketExists: false}
		publisher, _ := newTestPublisher(t, fake)

		if err := publisher.EnsureBucket(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !fake.madeBucket {
			t.Error("expected the bucket to be created")
		}
	})

	t.Run("leaves an existing bucket alone", func(t *testing.T) {
		fake := &s3Fake{bucketExists: true}
		publisher, _ := newTestPublisher(t, fake)

		if err := publisher.EnsureBucket(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fake.madeBucket {
			t.Error("bucket should not be recreated")
		}
	})
}

func TestObjectKey(t *testing.T) {
	t.Run("scopes the key to the job", func(t *testing.T) {
		key := ObjectKey("job-1", "processed", ".jpg")
		if !strings.HasPrefix(key, "job-1/processed-") {
			t.Errorf("unexpected key prefix: %s", key)
		}
		if !strings.HasSuffix(key, ".jpg") {
			t.Errorf("unexpected key suffix: %s", key)
		}
	})

	t.Run("accepts extensions with or without the dot", func(t *testing.T) {
		withDot := ObjectKey("job-1", "processed", ".png")
		without := ObjectKey("job-1", "processed", "png")
		if !strings.HasSuffix(withDot, ".png") || !strings.HasSuffix(without, ".png") {
			t.Errorf("extension handling broke: %s vs %s", withDot, without)
		}
	})

	t.Run("successive keys differ", func(t *testing.T) {
		a := ObjectKey("job-1", "processed", ".jpg")
		b := ObjectKey("job-1", "processed", ".jpg")
		if a == b {
			t.Errorf("expected unique keys, got %s twice", a)
		}
	})
}
