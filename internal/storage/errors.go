package storage

import (
	"errors"
	"strings"

	"github.com/minio/minio-go/v7"
)

// minioCode 返回 S3 错误码（小写），非 S3 错误返回空串。
func minioCode(err error) string {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(resp.Code))
}

// IsNoSuchKey 判断错误是否表示对象不存在。
func IsNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	switch minioCode(err) {
	case "nosuchkey", "notfound":
		return true
	}
	// 经过代理的错误可能只剩字符串
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "nosuchkey") || strings.Contains(lower, "specified key does not exist")
}

// IsNoSuchBucket 判断错误是否表示 Bucket 不存在。
func IsNoSuchBucket(err error) bool {
	if err == nil {
		return false
	}
	return minioCode(err) == "nosuchbucket" ||
		strings.Contains(strings.ToLower(err.Error()), "specified bucket does not exist")
}
