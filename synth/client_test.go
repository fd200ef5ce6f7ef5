package synth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/teranos/shopreel/ai/tracker"
	"github.com/teranos/shopreel/errors"
)

func TestClient_Configuration(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		client := NewClient(Config{BaseURL: "https://synth.example.com", APIKey: "test-key"})

		if client.config.Model != DefaultModel {
			t.Errorf("expected default model %s, got %s", DefaultModel, client.config.Model)
		}
		if client.config.AspectRatio != DefaultAspectRatio {
			t.Errorf("expected default aspect ratio %s, got %s", DefaultAspectRatio, client.config.AspectRatio)
		}
		if client.config.DurationSeconds != DefaultDurationSeconds {
			t.Errorf("expected default duration %d, got %d", DefaultDurationSeconds, client.config.DurationSeconds)
		}
		if client.config.RequestsPerSecond != DefaultRequestsPerSecond {
			t.Errorf("expected default rate %v, got %v", DefaultRequestsPerSecond, client.config.RequestsPerSecond)
		}
		if client.config.Timeout != DefaultTimeout {
			t.Errorf("expected default timeout %v, got %v", DefaultTimeout, client.config.Timeout)
		}
	})

	t.Run("custom values override defaults", func(t *testing.T) {
		client := NewClient(Config{
			BaseURL:           "https://synth.example.com/",
			APIKey:            "test-key",
			Model:             "pixverse-v4.5",
			AspectRatio:       "16:9",
			DurationSeconds:   5,
			RequestsPerSecond: 10,
			Timeout:           30 * time.Second,
		})

		if client.config.Model != "pixverse-v4.5" {
			t.Errorf("expected custom model, got %s", client.config.Model)
		}
		if client.config.AspectRatio != "16:9" {
			t.Errorf("expected custom aspect ratio, got %s", client.config.AspectRatio)
		}
		if client.baseURL != "https://synth.example.com" {
			t.Errorf("expected trailing slash trimmed, got %s", client.baseURL)
		}
	})
}

func TestClient_IsConfigured(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		apiKey  string
		want    bool
	}{
		{"both set", "https://synth.example.com", "key", true},
		{"missing key", "https://synth.example.com", "", false},
		{"missing endpoint", "", "key", false},
		{"neither set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(Config{BaseURL: tt.baseURL, APIKey: tt.apiKey})
			if got := client.IsConfigured(); got != tt.want {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClient_CreateTask(t *testing.T) {
	t.Run("submits the configured output settings", func(t *testing.T) {
		var gotReq createTaskRequest

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/tasks" {
				t.Errorf("expected path /v1/tasks, got %s", r.URL.Path)
			}
			if r.Header.Get("x-api-key") != "test-key" {
				t.Errorf("expected API key header, got %q", r.Header.Get("x-api-key"))
			}
			if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
				t.Fatalf("failed to decode request: %v", err)
			}
			json.NewEncoder(w).Encode(createTaskResponse{TaskID: "task-abc"})
		}))
		defer server.Close()

		client := NewClient(Config{
			BaseURL:         server.URL,
			APIKey:          "test-key",
			Model:           "pixverse-v4.5",
			AspectRatio:     "1:1",
			DurationSeconds: 5,
			Watermark:       true,
		})
		client.SetHTTPClient(server.Client())

		taskID, err := client.CreateTask(context.Background(), "a narrated product reel", "https://cdn.example.com/img.jpg")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if taskID != "task-abc" {
			t.Errorf("expected task-abc, got %s", taskID)
		}

		if gotReq.Model != "pixverse-v4.5" {
			t.Errorf("unexpected model: %s", gotReq.Model)
		}
		if gotReq.Prompt != "a narrated product reel" {
			t.Errorf("unexpected prompt: %s", gotReq.Prompt)
		}
		if gotReq.ImageURL != "https://cdn.example.com/img.jpg" {
			t.Errorf("unexpected image URL: %s", gotReq.ImageURL)
		}
		if gotReq.AspectRatio != "1:1" || gotReq.Duration != 5 || !gotReq.Watermark {
			t.Errorf("output settings not carried: %+v", gotReq)
		}
	})

	t.Run("empty prompt fails without a request", func(t *testing.T) {
		client := NewClient(Config{BaseURL: "https://synth.example.com", APIKey: "test-key"})

		_, err := client.CreateTask(context.Background(), "   ", "https://cdn.example.com/img.jpg")
		if err == nil {
			t.Fatal("expected error for empty prompt")
		}
	})

	t.Run("empty image URL fails without a request", func(t *testing.T) {
		client := NewClient(Config{BaseURL: "https://synth.example.com", APIKey: "test-key"})

		_, err := client.CreateTask(context.Background(), "prompt", "")
		if err == nil {
			t.Fatal("expected error for empty image URL")
		}
	})

	t.Run("unconfigured client fails", func(t *testing.T) {
		client := NewClient(Config{})

		_, err := client.CreateTask(context.Background(), "prompt", "https://cdn.example.com/img.jpg")
		if err == nil {
			t.Fatal("expected error for unconfigured client")
		}
	})

	t.Run("missing task id is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(createTaskResponse{})
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, APIKey: "test-key"})
		client.SetHTTPClient(server.Client())

		_, err := client.CreateTask(context.Background(), "prompt", "https://cdn.example.com/img.jpg")
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("service error field becomes an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(createTaskResponse{Error: "unsupported aspect ratio"})
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, APIKey: "test-key"})
		client.SetHTTPClient(server.Client())

		_, err := client.CreateTask(context.Background(), "prompt", "https://cdn.example.com/img.jpg")
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("sends exactly one request per call", func(t *testing.T) {
		requestCount := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestCount++
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, APIKey: "test-key"})
		client.SetHTTPClient(server.Client())

		_, err := client.CreateTask(context.Background(), "prompt", "https://cdn.example.com/img.jpg")
		if err == nil {
			t.Fatal("expected error")
		}
		if requestCount != 1 {
			t.Errorf("expected exactly 1 request, got %d", requestCount)
		}
	})

	t.Run("5xx responses are marked service unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, APIKey: "test-key"})
		client.SetHTTPClient(server.Client())

		_, err := client.CreateTask(context.Background(), "prompt", "https://cdn.example.com/img.jpg")
		if !errors.Is(err, errors.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable mark, got: %v", err)
		}
	})

	t.Run("4xx responses are not marked transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, APIKey: "test-key"})
		client.SetHTTPClient(server.Client())

		_, err := client.CreateTask(context.Background(), "prompt", "https://cdn.example.com/img.jpg")
		if err == nil {
			t.Fatal("expected error")
		}
		if errors.Is(err, errors.ErrServiceUnavailable) {
			t.Errorf("4xx should not be marked transient: %v", err)
		}
	})

	t.Run("cancelled context interrupts the rate limit wait", func(t *testing.T) {
		client := NewClient(Config{BaseURL: "https://synth.example.com", APIKey: "test-key"})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := client.CreateTask(ctx, "prompt", "https://cdn.example.com/img.jpg")
		if err == nil {
			t.Fatal("expected error for cancelled context")
		}
	})
}

func TestClient_GetTask(t *testing.T) {
	t.Run("polls the task endpoint", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				t.Errorf("expected GET, got %s", r.Method)
			}
			if r.URL.Path != "/v1/tasks/task-123" {
				t.Errorf("expected path /v1/tasks/task-123, got %s", r.URL.Path)
			}
			json.NewEncoder(w).Encode(taskStatusResponse{
				TaskID:   "task-123",
				Status:   "succeeded",
				VideoURL: "https://videos.example.com/task-123.mp4",
			})
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, APIKey: "test-key"})
		client.SetHTTPClient(server.Client())

		status, err := client.GetTask(context.Background(), "task-123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status.State != StateSucceeded {
			t.Errorf("expected succeeded, got %v", status.State)
		}
		if status.VideoURL != "https://videos.example.com/task-123.mp4" {
			t.Errorf("unexpected video URL: %s", status.VideoURL)
		}
	})

	t.Run("empty task id fails without a request", func(t *testing.T) {
		client := NewClient(Config{BaseURL: "https://synth.example.com", APIKey: "test-key"})

		_, err := client.GetTask(context.Background(), "")
		if err == nil {
			t.Fatal("expected error for empty task id")
		}
	})

	t.Run("5xx responses are marked service unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, APIKey: "test-key"})
		client.SetHTTPClient(server.Client())

		_, err := client.GetTask(context.Background(), "task-123")
		if !errors.Is(err, errors.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable mark, got: %v", err)
		}
	})
}

func TestDecodeStatus(t *testing.T) {
	tests := []struct {
		name      string
		resp      taskStatusResponse
		want      TaskStatus
		wantError bool
	}{
		{
			name: "pending",
			resp: taskStatusResponse{Status: "pending"},
			want: TaskStatus{State: StatePending},
		},
		{
			name: "queued maps to pending",
			resp: taskStatusResponse{Status: "queued"},
			want: TaskStatus{State: StatePending},
		},
		{
			name: "processing maps to pending",
			resp: taskStatusResponse{Status: "processing"},
			want: TaskStatus{State: StatePending},
		},
		{
			name: "succeeded with URL",
			resp: taskStatusResponse{Status: "succeeded", VideoURL: "https://v.example.com/1.mp4"},
			want: TaskStatus{State: StateSucceeded, VideoURL: "https://v.example.com/1.mp4"},
		},
		{
			name: "completed maps to succeeded",
			resp: taskStatusResponse{Status: "COMPLETED", VideoURL: "https://v.example.com/1.mp4"},
			want: TaskStatus{State: StateSucceeded, VideoURL: "https://v.example.com/1.mp4"},
		},
		{
			name:      "succeeded without URL is an error",
			resp:      taskStatusResponse{TaskID: "t1", Status: "succeeded"},
			wantError: true,
		},
		{
			name: "failed with reason",
			resp: taskStatusResponse{Status: "failed", Reason: "copyright violation"},
			want: TaskStatus{State: StateFailed, Reason: "copyright violation"},
		},
		{
			name: "failed without reason gets a stand-in",
			resp: taskStatusResponse{Status: "failed"},
			want: TaskStatus{State: StateFailed, Reason: "task failed without a stated reason"},
		},
		{
			name:      "unknown status is an error",
			resp:      taskStatusResponse{Status: "paused"},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeStatus(&tt.resp)
			if tt.wantError {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("decodeStatus() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClient_UsageTracking(t *testing.T) {
	t.Run("accepted tasks write a usage row with the flat cost", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock db: %v", err)
		}
		defer db.Close()

		mock.ExpectExec("INSERT INTO ai_model_usage").
			WithArgs(
				tracker.OpSynthCreateTask,
				tracker.EntityReelJob,
				"job-9",
				DefaultModel,
				"synth",
				nil,
				sqlmock.AnyArg(),
				sqlmock.AnyArg(),
				nil,
				0.40,
				true,
				nil,
				sqlmock.AnyArg(),
			).
			WillReturnResult(sqlmock.NewResult(1, 1))

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(createTaskResponse{TaskID: "task-abc"})
		}))
		defer server.Close()

		client := NewClient(Config{
			BaseURL:     server.URL,
			APIKey:      "test-key",
			TaskCostUSD: 0.40,
			DB:          db,
		})
		client.SetHTTPClient(server.Client())

		ctx := tracker.WithEntityID(context.Background(), "job-9")
		_, err = client.CreateTask(ctx, "prompt", "https://cdn.example.com/img.jpg")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("usage tracking expectations not met: %v", err)
		}
	})

	t.Run("failed creations record the error without cost", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock db: %v", err)
		}
		defer db.Close()

		mock.ExpectExec("INSERT INTO ai_model_usage").
			WithArgs(
				tracker.OpSynthCreateTask,
				tracker.EntityReelJob,
				"job-9",
				DefaultModel,
				"synth",
				nil,
				sqlmock.AnyArg(),
				nil,
				nil,
				nil,
				false,
				sqlmock.AnyArg(),
				sqlmock.AnyArg(),
			).
			WillReturnResult(sqlmock.NewResult(1, 1))

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}))
		defer server.Close()

		client := NewClient(Config{
			BaseURL:     server.URL,
			APIKey:      "test-key",
			TaskCostUSD: 0.40,
			DB:          db,
		})
		client.SetHTTPClient(server.Client())

		ctx := tracker.WithEntityID(context.Background(), "job-9")
		_, err = client.CreateTask(ctx, "prompt", "https://cdn.example.com/img.jpg")
		if err == nil {
			t.Fatal("expected error")
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("usage tracking expectations not met: %v", err)
		}
	})
}
