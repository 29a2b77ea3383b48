package domain

import "strings"

// Position 层级岗位（固定有序列表，自上而下）
type Position string

const (
	PositionSZD    Position = "szd"    // 大区总监（top）
	PositionSMD    Position = "smd"    // 销售经理（mid）
	PositionASM    Position = "asm"    // 区域经理（sub）
	PositionTSE    Position = "tse"    // 一线业务员（field）
	PositionMDD    Position = "mdd"    // 二级分销商
	PositionDealer Position = "dealer" // 经销商（叶子）
)

// HierarchyLevels 层级顺序表，下标即 HierarchyRow.Levels 的下标
var HierarchyLevels = []Position{
	PositionSZD,
	PositionSMD,
	PositionASM,
	PositionTSE,
	PositionMDD,
	PositionDealer,
}

// LevelCount 层级数量
const LevelCount = 6

// LevelIndex 返回岗位在层级表中的位置；未知岗位返回 -1
func LevelIndex(p Position) int {
	p = Position(strings.ToLower(strings.TrimSpace(string(p))))
	for i, l := range HierarchyLevels {
		if l == p {
			return i
		}
	}
	return -1
}

// ParsePosition 解析岗位字符串
func ParsePosition(s string) (Position, bool) {
	idx := LevelIndex(Position(s))
	if idx < 0 {
		return "", false
	}
	return HierarchyLevels[idx], true
}

// IsVisitTarget 是否为拜访对象（经销商 / MDD）
func (p Position) IsVisitTarget() bool {
	return p == PositionDealer || p == PositionMDD
}

// HierarchyRow 层级行（对应 hierarchy_rows 表）
// 每行描述一条完整的上下级链路，终点是一个经销商
// 中间层级可以为空；dealer 在同一 hierarchy_name 内必须非空
type HierarchyRow struct {
	ID            string
	HierarchyName string
	Levels        [LevelCount]string
	Extra         map[string]string // 导入时未识别的列，原样保留
}

// Code 返回指定岗位上的编码
func (r HierarchyRow) Code(p Position) string {
	idx := LevelIndex(p)
	if idx < 0 {
		return ""
	}
	return r.Levels[idx]
}

// SetCode 设置指定岗位上的编码
func (r *HierarchyRow) SetCode(p Position, code string) bool {
	idx := LevelIndex(p)
	if idx < 0 {
		return false
	}
	r.Levels[idx] = code
	return true
}

// DealerCode 经销商编码
func (r HierarchyRow) DealerCode() string {
	return r.Levels[LevelCount-1]
}

// DealerSet 层级解析结果
type DealerSet struct {
	Dealers []string `json:"dealers"`
	MDDs    []string `json:"mdds,omitempty"`
}

// All 返回经销商与 MDD 的并集（经销商在前）
func (s DealerSet) All() []string {
	seen := make(map[string]struct{}, len(s.Dealers)+len(s.MDDs))
	out := make([]string, 0, len(s.Dealers)+len(s.MDDs))
	for _, list := range [][]string{s.Dealers, s.MDDs} {
		for _, c := range list {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Empty 是否为空
func (s DealerSet) Empty() bool {
	return len(s.Dealers) == 0 && len(s.MDDs) == 0
}
