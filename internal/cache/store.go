package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Storage 管理全部命名缓存，磁盘布局遵循：
//
//	<StoragePath>/<store-name>/<key[0:2]>/<key>.entry    # 元数据行 + 正文
//
// 命名缓存在进程重启后依然可读，生命周期由 controller 的 install/activate 决定。
type Storage interface {
	// Open 打开（必要时创建）指定名称的缓存。
	Open(ctx context.Context, name string) (Cache, error)

	// Keys 返回当前存在的全部缓存名称，按字典序排列。
	Keys(ctx context.Context) ([]string, error)

	// Has 判断缓存是否存在。
	Has(ctx context.Context, name string) (bool, error)

	// Delete 删除整个命名缓存，返回是否确实删除了已存在的缓存。
	Delete(ctx context.Context, name string) (bool, error)
}

// Cache 是单个命名缓存，按请求身份（method + URL）存取响应。
type Cache interface {
	Name() string

	// Match 查找请求对应的条目，不存在时返回 ErrNotFound。调用方负责关闭 Entry。
	Match(ctx context.Context, req *http.Request) (*Entry, error)

	// Put 将响应写入缓存并覆盖旧条目，会读取并消耗 resp.Body。
	Put(ctx context.Context, req *http.Request, resp *http.Response) error

	// Delete 删除请求对应的条目，返回条目是否存在。
	Delete(ctx context.Context, req *http.Request) (bool, error)
}

// Entry 表示一次缓存命中：请求身份、存储的响应头/状态以及可流式读取的正文。
type Entry struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	Header     http.Header
	// Timestamp 取自响应 Date 头；缺失或无法解析时为零值。
	Timestamp time.Time
	SizeBytes int64
	Body      io.ReadSeekCloser
}

// Close 释放正文文件句柄。
func (e *Entry) Close() error {
	if e == nil || e.Body == nil {
		return nil
	}
	return e.Body.Close()
}

// Response 将缓存条目还原为 http.Response，状态、头和正文与写入时一致。
func (e *Entry) Response(req *http.Request) *http.Response {
	status := e.Status
	if status == "" {
		status = strings.TrimSpace(http.StatusText(e.StatusCode))
	}
	var body io.ReadCloser = http.NoBody
	if e.Body != nil {
		body = e.Body
	}
	return &http.Response{
		Status:        status,
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        e.Header.Clone(),
		Body:          body,
		ContentLength: e.SizeBytes,
		Request:       req,
	}
}

// ResponseDate 解析 Date 头，作为条目的时间戳。
func ResponseDate(header http.Header) time.Time {
	raw := strings.TrimSpace(header.Get("Date"))
	if raw == "" {
		return time.Time{}
	}
	parsed, err := http.ParseTime(raw)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

// RequestKey 计算请求身份对应的缓存键（16 位十六进制），query string 参与计算。
// 完整 method + URL 同时写入条目元数据，Match 时会再次比对。
func RequestKey(req *http.Request) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(requestIdentity(req)))
}

func requestIdentity(req *http.Request) string {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return strings.ToUpper(method) + " " + req.URL.String()
}

var (
	// ErrNotFound 表示缓存条目不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidName 表示缓存名称无法映射为目录。
	ErrInvalidName = errors.New("invalid cache name")
)
