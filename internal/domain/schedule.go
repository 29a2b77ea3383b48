package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// VisitStatus 拜访状态
type VisitStatus string

const (
	VisitPending VisitStatus = "pending"
	VisitDone    VisitStatus = "done"
)

// Valid 是否为合法状态
func (s VisitStatus) Valid() bool {
	return s == VisitPending || s == VisitDone
}

// ScheduleMode 排程模式
type ScheduleMode string

const (
	ScheduleWeekly ScheduleMode = "weekly" // 周一..周日 分桶
	ScheduleDaily  ScheduleMode = "daily"  // 单日平铺列表
)

// VisitRecord 单个经销商在某一天的拜访记录（嵌入 ScheduleStore，无独立身份）
type VisitRecord struct {
	Ordinal    int         `json:"ordinal"` // 在所属 ScheduleStore 内唯一，用于定点更新
	DealerCode string      `json:"dealer_code"`
	DealerName string      `json:"dealer_name"`
	Latitude   float64     `json:"latitude"`
	Longitude  float64     `json:"longitude"`
	Status     VisitStatus `json:"status"`
	DistanceKm *float64    `json:"distance_km"` // 距离证据，未拜访为 null
	VisitedAt  *time.Time  `json:"visited_at,omitempty"`

	// 创建排程时从 Actor 复制的地理标签
	Zone     string   `json:"zone,omitempty"`
	District string   `json:"district,omitempty"`
	Taluka   string   `json:"taluka,omitempty"`
	Town     string   `json:"town,omitempty"`
	Position Position `json:"position,omitempty"`
}

// NewPendingVisit 根据 Actor 生成待拜访记录（ordinal 由 ScheduleStore 分配）
func NewPendingVisit(a Actor) VisitRecord {
	return VisitRecord{
		DealerCode: a.Code,
		DealerName: a.Name,
		Latitude:   a.Latitude,
		Longitude:  a.Longitude,
		Status:     VisitPending,
		Zone:       a.Zone,
		District:   a.District,
		Taluka:     a.Taluka,
		Town:       a.Town,
		Position:   a.Position,
	}
}

// WeekBuckets 周一..周日 七个桶
type WeekBuckets [7][]VisitRecord

var weekdayNames = [7]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// WeekdayIndex time.Weekday -> 桶下标（周一为 0）
func WeekdayIndex(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}

// ParseWeekday 解析 "monday" / "mon" / "1".."7"
func ParseWeekday(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range weekdayNames {
		if s == name || (len(s) >= 3 && strings.HasPrefix(name, s)) {
			return i, true
		}
	}
	if len(s) == 1 && s[0] >= '1' && s[0] <= '7' {
		return int(s[0] - '1'), true
	}
	return 0, false
}

// MarshalJSON 输出为 {"monday": [...], ...}
func (w WeekBuckets) MarshalJSON() ([]byte, error) {
	m := make(map[string][]VisitRecord, 7)
	for i, name := range weekdayNames {
		if w[i] == nil {
			m[name] = []VisitRecord{}
		} else {
			m[name] = w[i]
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON 从 {"monday": [...], ...} 解析
func (w *WeekBuckets) UnmarshalJSON(data []byte) error {
	var m map[string][]VisitRecord
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for k, v := range m {
		idx, ok := ParseWeekday(k)
		if !ok {
			return fmt.Errorf("unknown weekday bucket: %s", k)
		}
		w[idx] = v
	}
	return nil
}

// ScheduleStore 员工在某个周期内的拜访排程（聚合根）
// 计数器不变式：Total == Done + Pending == 所有桶中记录总数
type ScheduleStore struct {
	ID           string       `json:"id"`
	EmployeeCode string       `json:"employee_code"`
	EmployeeName string       `json:"employee_name"`
	Mode         ScheduleMode `json:"mode"`
	StartDate    time.Time    `json:"start_date"`
	EndDate      time.Time    `json:"end_date"`

	Days   WeekBuckets   `json:"days"`   // weekly 模式
	Visits []VisitRecord `json:"visits"` // daily 模式

	Total   int `json:"total"`
	Done    int `json:"done"`
	Pending int `json:"pending"`

	NextOrdinal int       `json:"-"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DateOnly 取日历日期（按 t 自身时区），统一为 UTC 零点
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeekStart 返回 t 所在周的周一
func WeekStart(t time.Time) time.Time {
	d := DateOnly(t)
	return d.AddDate(0, 0, -WeekdayIndex(d.Weekday()))
}

// Covers 周期是否包含某一天
func (s *ScheduleStore) Covers(day time.Time) bool {
	d := DateOnly(day)
	return !d.Before(DateOnly(s.StartDate)) && !d.After(DateOnly(s.EndDate))
}

// Bucket 返回某一天对应的桶；不在周期内返回 nil
func (s *ScheduleStore) Bucket(day time.Time) *[]VisitRecord {
	if !s.Covers(day) {
		return nil
	}
	if s.Mode == ScheduleWeekly {
		return &s.Days[WeekdayIndex(DateOnly(day).Weekday())]
	}
	return &s.Visits
}

// buckets 返回所有桶（用于遍历 / 重新计数）
func (s *ScheduleStore) buckets() []*[]VisitRecord {
	if s.Mode == ScheduleWeekly {
		out := make([]*[]VisitRecord, 0, 7)
		for i := range s.Days {
			out = append(out, &s.Days[i])
		}
		return out
	}
	return []*[]VisitRecord{&s.Visits}
}

// EachVisit 遍历全部拜访记录；day 为该记录所属日期
func (s *ScheduleStore) EachVisit(fn func(day time.Time, v *VisitRecord)) {
	if s.Mode == ScheduleWeekly {
		ws := WeekStart(s.StartDate)
		for i := range s.Days {
			day := ws.AddDate(0, 0, i)
			for j := range s.Days[i] {
				fn(day, &s.Days[i][j])
			}
		}
		return
	}
	day := DateOnly(s.StartDate)
	for j := range s.Visits {
		fn(day, &s.Visits[j])
	}
}

// Recount 全量重新计算计数器（管理员覆盖后使用）
func (s *ScheduleStore) Recount() {
	total, done := 0, 0
	maxOrdinal := 0
	for _, b := range s.buckets() {
		for _, v := range *b {
			total++
			if v.Status == VisitDone {
				done++
			}
			if v.Ordinal > maxOrdinal {
				maxOrdinal = v.Ordinal
			}
		}
	}
	s.Total = total
	s.Done = done
	s.Pending = total - done
	if s.NextOrdinal <= maxOrdinal {
		s.NextOrdinal = maxOrdinal + 1
	}
}

// SyncNextOrdinal 从已有记录恢复下一个 ordinal（从存储加载后调用）
func (s *ScheduleStore) SyncNextOrdinal() {
	maxOrdinal := 0
	for _, b := range s.buckets() {
		for _, v := range *b {
			if v.Ordinal > maxOrdinal {
				maxOrdinal = v.Ordinal
			}
		}
	}
	s.NextOrdinal = maxOrdinal + 1
}

// CheckCounters 校验计数器不变式
func (s *ScheduleStore) CheckCounters() error {
	count := 0
	done := 0
	for _, b := range s.buckets() {
		for _, v := range *b {
			count++
			if v.Status == VisitDone {
				done++
			}
		}
	}
	if s.Total != s.Done+s.Pending || s.Total != count || s.Done != done {
		return fmt.Errorf("counter mismatch: total=%d done=%d pending=%d records=%d done_records=%d",
			s.Total, s.Done, s.Pending, count, done)
	}
	return nil
}

// DealerCodesOn 某一天已排程的经销商编码集合
func (s *ScheduleStore) DealerCodesOn(day time.Time) map[string]struct{} {
	out := map[string]struct{}{}
	b := s.Bucket(day)
	if b == nil {
		return out
	}
	for _, v := range *b {
		out[v.DealerCode] = struct{}{}
	}
	return out
}

// AppendVisits 把记录追加到某一天的桶，跳过当天已存在的经销商；返回实际追加数量
// 追加的记录一律为 pending，计数器增量更新
func (s *ScheduleStore) AppendVisits(day time.Time, visits []VisitRecord) int {
	b := s.Bucket(day)
	if b == nil {
		return 0
	}
	existing := s.DealerCodesOn(day)
	if s.NextOrdinal <= 0 {
		s.NextOrdinal = 1
	}
	added := 0
	for _, v := range visits {
		if v.DealerCode == "" {
			continue
		}
		if _, ok := existing[v.DealerCode]; ok {
			continue
		}
		existing[v.DealerCode] = struct{}{}
		v.Ordinal = s.NextOrdinal
		s.NextOrdinal++
		v.Status = VisitPending
		v.DistanceKm = nil
		v.VisitedAt = nil
		*b = append(*b, v)
		added++
	}
	s.Total += added
	s.Pending += added
	return added
}

// FindVisit 按 ordinal 定位记录
func (s *ScheduleStore) FindVisit(ordinal int) *VisitRecord {
	var found *VisitRecord
	s.EachVisit(func(_ time.Time, v *VisitRecord) {
		if found == nil && v.Ordinal == ordinal {
			found = v
		}
	})
	return found
}

// FindDealerOn 在某一天的桶里按经销商编码定位记录
func (s *ScheduleStore) FindDealerOn(day time.Time, dealerCode string) *VisitRecord {
	b := s.Bucket(day)
	if b == nil {
		return nil
	}
	for i := range *b {
		if (*b)[i].DealerCode == dealerCode {
			return &(*b)[i]
		}
	}
	return nil
}

// RemoveVisit 按 ordinal 删除记录，返回被删除的记录
func (s *ScheduleStore) RemoveVisit(ordinal int) (VisitRecord, bool) {
	for _, b := range s.buckets() {
		for i, v := range *b {
			if v.Ordinal == ordinal {
				*b = append((*b)[:i], (*b)[i+1:]...)
				return v, true
			}
		}
	}
	return VisitRecord{}, false
}

// MarkDone pending -> done 的增量快速路径；返回 false 表示已经是 done
func (s *ScheduleStore) MarkDone(v *VisitRecord, distanceKm float64, at time.Time) bool {
	if v.Status == VisitDone {
		return false
	}
	d := distanceKm
	t := at
	v.Status = VisitDone
	v.DistanceKm = &d
	v.VisitedAt = &t
	s.Done++
	s.Pending--
	return true
}

// Clone 深拷贝（读-改-写时在副本上修改）
func (s *ScheduleStore) Clone() *ScheduleStore {
	c := *s
	for i := range s.Days {
		c.Days[i] = cloneVisits(s.Days[i])
	}
	c.Visits = cloneVisits(s.Visits)
	return &c
}

func cloneVisits(in []VisitRecord) []VisitRecord {
	if in == nil {
		return nil
	}
	out := make([]VisitRecord, len(in))
	for i, v := range in {
		if v.DistanceKm != nil {
			d := *v.DistanceKm
			v.DistanceKm = &d
		}
		if v.VisitedAt != nil {
			t := *v.VisitedAt
			v.VisitedAt = &t
		}
		out[i] = v
	}
	return out
}
