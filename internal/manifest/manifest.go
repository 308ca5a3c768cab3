// Package manifest 计算一个部署版本的静态资源清单：构建产物目录 + 静态文件目录，
// 全部转换为带 origin 的绝对 URL。清单在版本生命周期内不可变。
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Manifest 是不可变的静态资源 URL 集合。
type Manifest struct {
	urls map[string]struct{}
}

// Options 描述清单来源。
type Options struct {
	// Origin 是应用自身的 origin，例如 https://dex.example.com。
	Origin *url.URL
	// BuildDir 为打包器输出目录，文件以 BuildPrefix 为 URL 前缀。
	BuildDir    string
	BuildPrefix string
	// StaticDir 下的文件直接挂在站点根路径。
	StaticDir string
	// Extra 为额外的站点路径或绝对 URL。
	Extra []string
}

// Build 遍历目录并生成清单；目录为空字符串时跳过，目录不存在时报错。
func Build(opts Options) (Manifest, error) {
	if opts.Origin == nil || opts.Origin.Host == "" {
		return Manifest{}, errors.New("manifest origin required")
	}

	paths := make([]string, 0, 64)
	if opts.BuildDir != "" {
		found, err := walkFiles(opts.BuildDir, opts.BuildPrefix)
		if err != nil {
			return Manifest{}, fmt.Errorf("scan build dir: %w", err)
		}
		paths = append(paths, found...)
	}
	if opts.StaticDir != "" {
		found, err := walkFiles(opts.StaticDir, "/")
		if err != nil {
			return Manifest{}, fmt.Errorf("scan static dir: %w", err)
		}
		paths = append(paths, found...)
	}
	paths = append(paths, opts.Extra...)

	return FromPaths(opts.Origin, paths)
}

// FromPaths 将站点路径（或绝对 URL）转换为 origin 限定的清单。
func FromPaths(origin *url.URL, paths []string) (Manifest, error) {
	if origin == nil || origin.Host == "" {
		return Manifest{}, errors.New("manifest origin required")
	}
	m := Manifest{urls: make(map[string]struct{}, len(paths))}
	for _, raw := range paths {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return Manifest{}, fmt.Errorf("invalid asset %q: %w", raw, err)
		}
		if !ref.IsAbs() && !strings.HasPrefix(ref.Path, "/") {
			ref.Path = "/" + ref.Path
		}
		m.urls[origin.ResolveReference(ref).String()] = struct{}{}
	}
	return m, nil
}

// Contains 判断 URL 是否与清单条目完全一致。
func (m Manifest) Contains(rawURL string) bool {
	_, ok := m.urls[rawURL]
	return ok
}

// Len 返回条目数量。
func (m Manifest) Len() int {
	return len(m.urls)
}

// URLs 返回排序后的清单副本。
func (m Manifest) URLs() []string {
	result := make([]string, 0, len(m.urls))
	for u := range m.urls {
		result = append(result, u)
	}
	sort.Strings(result)
	return result
}

func walkFiles(root, prefix string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	if prefix == "" {
		prefix = "/"
	}

	var result []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		result = append(result, path.Join("/", prefix, filepath.ToSlash(rel)))
		return nil
	})
	return result, err
}
