package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

func statusError(code int) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: code}},
		Err:      errors.New("response error"),
	}
}

func TestS3ErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		notFound     bool
		invalidRange bool
	}{
		{name: "typed no such key", err: fmt.Errorf("get: %w", &types.NoSuchKey{}), notFound: true},
		{name: "typed not found", err: &types.NotFound{}, notFound: true},
		{name: "api code not found", err: &smithy.GenericAPIError{Code: "NotFound"}, notFound: true},
		{name: "status 404", err: statusError(http.StatusNotFound), notFound: true},
		{name: "api code invalid range", err: fmt.Errorf("get: %w", &smithy.GenericAPIError{Code: "InvalidRange"}), invalidRange: true},
		{name: "status 416", err: statusError(http.StatusRequestedRangeNotSatisfiable), invalidRange: true},
		{name: "message mentions range", err: errors.New("InvalidRange 404 NotFound")},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDenied"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNotFound(tt.err); got != tt.notFound {
				t.Errorf("isNotFound() = %v, want %v", got, tt.notFound)
			}
			if got := isInvalidRange(tt.err); got != tt.invalidRange {
				t.Errorf("isInvalidRange() = %v, want %v", got, tt.invalidRange)
			}
		})
	}
}

func newFakeS3(t *testing.T) *S3Storage {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case r.Header.Get("Range") != "":
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
				`<Error><Code>InvalidRange</Code><Message>The requested range is not satisfiable</Message></Error>`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
				`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
		}
	}))
	t.Cleanup(srv.Close)

	store, err := NewS3Storage(&S3Config{
		Type:      StorageTypeS3Compatible,
		Endpoint:  srv.URL,
		AccessKey: "test",
		SecretKey: "test",
		Bucket:    "datasets",
		Region:    "us-east-1",
	})
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}
	return store
}

func TestS3Storage_ErrorResponses(t *testing.T) {
	ctx := context.Background()
	store := newFakeS3(t)

	rc, err := store.DownloadFrom(ctx, "raw/ds-1.csv", 128)
	if err != nil {
		t.Fatalf("DownloadFrom(past end) error = %v, want empty reader", err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil || len(data) != 0 {
		t.Errorf("DownloadFrom(past end) read %q, %v", data, err)
	}

	if _, err := store.Download(ctx, "raw/missing.csv"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Download(missing) error = %v, want ErrObjectNotFound", err)
	}
	if _, err := store.Size(ctx, "raw/missing.csv"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Size(missing) error = %v, want ErrObjectNotFound", err)
	}
	ok, err := store.Exists(ctx, "raw/missing.csv")
	if err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v, want false, nil", ok, err)
	}
}
