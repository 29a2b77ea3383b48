package geo

import (
	"math"

	"fieldvisit/internal/domain"
)

// EarthRadiusMeters 地球平均半径
const EarthRadiusMeters = 6371000.0

// 两处阈值来源不同，暂不合并，待产品确认
const (
	// AttendanceThresholdMeters 打卡 / 考勤类校验
	AttendanceThresholdMeters = 100.0
	// VisitConfirmationThresholdMeters 经销商拜访确认
	VisitConfirmationThresholdMeters = 200.0
)

// DistanceMeters haversine 大圆距离（米）
func DistanceMeters(a, b domain.Coordinate) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// DistanceKm haversine 大圆距离（千米）
func DistanceKm(a, b domain.Coordinate) float64 {
	return DistanceMeters(a, b) / 1000
}

// Within 距离是否在阈值内（含边界）
func Within(distanceMeters, thresholdMeters float64) bool {
	return distanceMeters <= thresholdMeters
}

// CheckVisit 拜访确认：距离（千米）超过 200m 返回 OutOfRangeError
func CheckVisit(distanceKm float64) error {
	return check(distanceKm, VisitConfirmationThresholdMeters)
}

// CheckAttendance 打卡校验：距离（千米）超过 100m 返回 OutOfRangeError
func CheckAttendance(distanceKm float64) error {
	return check(distanceKm, AttendanceThresholdMeters)
}

func check(distanceKm, thresholdMeters float64) error {
	// 按千米比较，0.2 km 恰好在 200m 边界内
	if distanceKm < 0 || distanceKm > thresholdMeters/1000 {
		return &domain.OutOfRangeError{
			DistanceMeters:  math.Round(distanceKm * 1000),
			ThresholdMeters: thresholdMeters,
		}
	}
	return nil
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
