package domain

// Actor 员工或经销商（对应 actors 表，由主数据模块维护，本服务只读）
type Actor struct {
	Code      string   `db:"code"`
	Name      string   `db:"name"`
	Role      string   `db:"role"`     // admin, super_admin, employee, dealer
	Position  Position `db:"position"` // szd, smd, asm, tse, mdd, dealer
	Latitude  float64  `db:"latitude"`
	Longitude float64  `db:"longitude"`
	Zone      string   `db:"zone"`
	District  string   `db:"district"`
	Taluka    string   `db:"taluka"`
	Town      string   `db:"town"`
}

// Coordinate 返回最后已知坐标
func (a Actor) Coordinate() Coordinate {
	return Coordinate{Lat: a.Latitude, Lon: a.Longitude}
}

// Coordinate 经纬度
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// GeoFilter 地理过滤条件
// 各列表之间为 AND，列表内部为 OR；空列表表示不过滤
type GeoFilter struct {
	Zones     []string   `json:"zones,omitempty"`
	Districts []string   `json:"districts,omitempty"`
	Talukas   []string   `json:"talukas,omitempty"`
	Towns     []string   `json:"towns,omitempty"`
	Positions []Position `json:"positions,omitempty"`
}

// IsEmpty 没有任何地理条件（岗位条件不算）
func (f GeoFilter) IsEmpty() bool {
	return len(f.Zones) == 0 && len(f.Districts) == 0 && len(f.Talukas) == 0 && len(f.Towns) == 0
}

// Matches 判断一组地理标签是否满足过滤条件（不检查岗位）
func (f GeoFilter) Matches(zone, district, taluka, town string) bool {
	return matchList(f.Zones, zone) &&
		matchList(f.Districts, district) &&
		matchList(f.Talukas, taluka) &&
		matchList(f.Towns, town)
}

// MatchesActor 判断 actor 是否满足过滤条件（包括岗位）
func (f GeoFilter) MatchesActor(a Actor) bool {
	if len(f.Positions) > 0 {
		ok := false
		for _, p := range f.Positions {
			if p == a.Position {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return f.Matches(a.Zone, a.District, a.Taluka, a.Town)
}

func matchList(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Identity 已认证的调用者（由网关注入，本服务不再校验）
type Identity struct {
	Code     string
	Name     string
	Role     string
	Position string
}

const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
	RoleEmployee   = "employee"
)

// IsAdmin 是否为管理员
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin || i.Role == RoleSuperAdmin
}
