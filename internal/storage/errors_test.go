package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestIsNoSuchKey(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"s3 code", minio.ErrorResponse{Code: "NoSuchKey"}, true},
		{"wrapped s3 code", fmt.Errorf("remove: %w", minio.ErrorResponse{Code: "NotFound"}), true},
		{"proxy text", errors.New("upstream: The specified key does not exist."), true},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied"}, false},
		{"bucket", minio.ErrorResponse{Code: "NoSuchBucket"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsNoSuchKey(tc.err); got != tc.want {
				t.Fatalf("IsNoSuchKey(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsNoSuchBucket(t *testing.T) {
	if !IsNoSuchBucket(minio.ErrorResponse{Code: "NoSuchBucket"}) {
		t.Fatal("expected NoSuchBucket to match")
	}
	if IsNoSuchBucket(minio.ErrorResponse{Code: "NoSuchKey"}) {
		t.Fatal("NoSuchKey is not a bucket error")
	}
	if IsNoSuchBucket(nil) {
		t.Fatal("nil is not an error")
	}
}
