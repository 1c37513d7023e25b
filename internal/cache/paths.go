package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"
	"unicode"
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
	".bmp":  {},
}

// Layout 负责把缓存键映射为磁盘路径，同一键永远得到相同路径，重复缓存即原地覆盖。
//
//	<root>/covers/<owner>.jpg
//	<root>/content/<owner>/<image>
type Layout struct {
	root string
}

// NewLayout 以绝对路径 root 构建布局。
func NewLayout(root string) (Layout, error) {
	if root == "" {
		return Layout{}, errors.New("cache root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, err
	}
	return Layout{root: abs}, nil
}

// Root 返回缓存根目录。
func (l Layout) Root() string {
	return l.root
}

// CategoryDir 返回分类子目录。
func (l Layout) CategoryDir(c Category) string {
	return filepath.Join(l.root, c.Dir())
}

// Path 计算缓存键的目标文件路径。
func (l Layout) Path(key Key) string {
	owner := fragment(key.Owner)
	if key.Category == CategoryCover {
		return filepath.Join(l.CategoryDir(CategoryCover), owner+".jpg")
	}

	ext := strings.ToLower(filepath.Ext(key.Image))
	base := key.Image
	if _, ok := imageExtensions[ext]; ok {
		base = strings.TrimSuffix(key.Image, filepath.Ext(key.Image))
	} else {
		ext = ".img"
	}
	// 哈希取完整原始名称，"A.PNG" 与 "A.png" 的扩展名虽然统一小写，文件仍然不同。
	return filepath.Join(l.CategoryDir(CategoryContent), owner, labeledFragment(base, key.Image)+ext)
}

// fragment 将任意名称转为安全的文件名片段，并追加原始值的短哈希，避免
// "a/b" 与 "a_b" 这类清洗后相同的名称互相覆盖。
func fragment(raw string) string {
	return labeledFragment(raw, raw)
}

// labeledFragment 以 label 的清洗结果作为可读部分，以 identity 的哈希作为区分后缀。
func labeledFragment(label, identity string) string {
	var b strings.Builder
	for _, r := range label {
		switch {
		case r == '-' || r == '.' || r == '_':
			b.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	clean := strings.Trim(b.String(), ".")
	if runes := []rune(clean); len(runes) > 64 {
		clean = string(runes[:64])
	}
	if clean == "" {
		clean = "_"
	}

	sum := sha1.Sum([]byte(identity))
	return clean + "-" + hex.EncodeToString(sum[:4])
}
