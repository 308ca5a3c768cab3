package cache

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// NewStorage 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStorage{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStorage 通过 entryLock 避免同一条目并发写入，所有命名缓存共享同一把锁表。
type fileStorage struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// fileCache 是 fileStorage 下的一个命名缓存目录。
type fileCache struct {
	storage *fileStorage
	name    string
	dir     string
}

// entryMeta 写在条目文件首行，正文紧随其后。
type entryMeta struct {
	Method     string      `json:"method"`
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Status     string      `json:"status"`
	Header     http.Header `json:"header"`
	StoredAt   time.Time   `json:"stored_at"`
}

func (s *fileStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.cacheDir(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache %s: %w", name, err)
	}
	return &fileCache{storage: s, name: name, dir: dir}, nil
}

func (s *fileStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if !item.IsDir() || strings.HasPrefix(item.Name(), ".") {
			continue
		}
		name, err := url.PathUnescape(item.Name())
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.cacheDir(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *fileStorage) Delete(ctx context.Context, name string) (bool, error) {
	exists, err := s.Has(ctx, name)
	if err != nil || !exists {
		return false, err
	}
	dir, err := s.cacheDir(name)
	if err != nil {
		return false, err
	}
	// 先改名再删除，避免删除过程中被 Keys/Open 看到半删除的目录。
	trash, err := os.MkdirTemp(s.basePath, ".trash-*")
	if err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	target := filepath.Join(trash, "cache")
	if err := os.Rename(dir, target); err != nil {
		os.RemoveAll(trash)
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	if err := os.RemoveAll(trash); err != nil {
		return true, fmt.Errorf("delete cache %s: %w", name, err)
	}
	return true, nil
}

func (s *fileStorage) cacheDir(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.basePath, url.PathEscape(name)), nil
}

func (s *fileStorage) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (c *fileCache) Name() string {
	return c.name
}

func (c *fileCache) Match(ctx context.Context, req *http.Request) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath := c.entryPath(RequestKey(req))
	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}

	line, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read cache entry header: %w", err)
	}
	var meta entryMeta
	if err := json.Unmarshal(line, &meta); err != nil {
		f.Close()
		return nil, fmt.Errorf("decode cache entry header: %w", err)
	}
	if meta.Method+" "+meta.URL != requestIdentity(req) {
		// 哈希冲突：同一文件属于另一个请求。
		f.Close()
		return nil, ErrNotFound
	}

	offset := int64(len(line))
	size := info.Size() - offset
	return &Entry{
		Method:     meta.Method,
		URL:        meta.URL,
		StatusCode: meta.StatusCode,
		Status:     meta.Status,
		Header:     meta.Header,
		Timestamp:  ResponseDate(meta.Header),
		SizeBytes:  size,
		Body: &sectionFile{
			SectionReader: io.NewSectionReader(f, offset, size),
			file:          f,
		},
	}, nil
}

func (c *fileCache) Put(ctx context.Context, req *http.Request, resp *http.Response) error {
	if resp == nil {
		return errors.New("response required")
	}
	key := RequestKey(req)
	filePath := c.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	header, err := json.Marshal(entryMeta{
		Method:     method,
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		StoredAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode cache entry header: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".entry-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	var body io.Reader = http.NoBody
	if resp.Body != nil {
		body = resp.Body
	}
	_, err = tempFile.Write(append(header, '\n'))
	if err == nil {
		_, err = copyWithContext(ctx, tempFile, body)
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	// 正文写入临时文件期间不持锁，只在替换条目时加锁。
	unlock := c.storage.lockEntry(c.name + "::" + key)
	defer unlock()
	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (c *fileCache) Delete(ctx context.Context, req *http.Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := RequestKey(req)
	unlock := c.storage.lockEntry(c.name + "::" + key)
	defer unlock()

	if err := os.Remove(c.entryPath(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *fileCache) entryPath(key string) string {
	return filepath.Join(c.dir, key[:2], key+".entry")
}

// sectionFile 让 SectionReader 可以关闭底层文件。
type sectionFile struct {
	*io.SectionReader
	file *os.File
}

func (s *sectionFile) Close() error {
	return s.file.Close()
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
