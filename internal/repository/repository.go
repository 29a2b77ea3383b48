package repository

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrNotFound 记录不存在（各实现统一把 sql.ErrNoRows 转换为此错误）
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict 乐观锁版本不匹配
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicate 唯一约束冲突（例如同一员工同一天的 daily 排程）
	ErrDuplicate = errors.New("duplicate record")
)

// DefaultPageSize 默认分页大小
const DefaultPageSize = 20

func normalizePage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	return page, size
}

func paginate(total, page, size int) (int, int) {
	page, size = normalizePage(page, size)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	return start, end
}

func jsonOrEmptyObject(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// cleanCodes 去空白、去空、去重（保持顺序）
func cleanCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
