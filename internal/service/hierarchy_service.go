package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"fieldvisit/internal/domain"
	"fieldvisit/internal/repository"

	"go.uber.org/zap"
)

// HierarchyService 层级解析：员工编码 + 岗位 -> 下辖经销商集合
type HierarchyService struct {
	repo   repository.HierarchyRepository
	logger *zap.Logger
}

// NewHierarchyService 创建层级解析服务
func NewHierarchyService(repo repository.HierarchyRepository, logger *zap.Logger) *HierarchyService {
	return &HierarchyService{repo: repo, logger: logger}
}

// ResolveDealersRequest 层级解析请求
type ResolveDealersRequest struct {
	HierarchyName string
	Code          string
	Position      string
	IncludeMDD    bool
}

// ResolveDealers 扫描岗位列等于 code 的所有行，合并 dealer（以及可选的 mdd）列
// 没有匹配行时返回空集合
func (s *HierarchyService) ResolveDealers(ctx context.Context, req ResolveDealersRequest) (domain.DealerSet, error) {
	if strings.TrimSpace(req.HierarchyName) == "" {
		return domain.DealerSet{}, domain.Required("hierarchy_name")
	}
	if strings.TrimSpace(req.Code) == "" {
		return domain.DealerSet{}, domain.Required("code")
	}
	pos, ok := domain.ParsePosition(req.Position)
	if !ok {
		return domain.DealerSet{}, domain.NewValidationError("position", fmt.Sprintf("unknown position %q", req.Position))
	}

	rows, err := s.repo.ListRowsByPosition(ctx, req.HierarchyName, pos, req.Code)
	if err != nil {
		return domain.DealerSet{}, domain.Internal("list hierarchy rows", err)
	}

	dealers := map[string]struct{}{}
	mdds := map[string]struct{}{}
	for _, row := range rows {
		if d := row.DealerCode(); d != "" {
			dealers[d] = struct{}{}
		}
		if req.IncludeMDD {
			if m := row.Code(domain.PositionMDD); m != "" {
				mdds[m] = struct{}{}
			}
		}
	}

	set := domain.DealerSet{Dealers: sortedKeys(dealers)}
	if req.IncludeMDD {
		set.MDDs = sortedKeys(mdds)
	}
	s.logger.Debug("Resolved hierarchy dealers",
		zap.String("hierarchy_name", req.HierarchyName),
		zap.String("code", req.Code),
		zap.String("position", string(pos)),
		zap.Int("rows", len(rows)),
		zap.Int("dealers", len(set.Dealers)),
	)
	return set, nil
}

// ListHierarchyNames 所有层级名称
func (s *HierarchyService) ListHierarchyNames(ctx context.Context) ([]string, error) {
	names, err := s.repo.ListHierarchyNames(ctx)
	if err != nil {
		return nil, domain.Internal("list hierarchy names", err)
	}
	return names, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
