package geo

import "math"

// EarthRadiusKm 地球平均半径
const EarthRadiusKm = 6371.0

// Distance 计算两点间的大圆距离（haversine），单位公里
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}

	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// 浮点误差可能让 a 略超出 [0, 1]
	a = math.Min(1, math.Max(0, a))

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}

// DistanceBetween 任一端缺少坐标时返回 ok=false，表示距离未知
func DistanceBetween(lat1, lon1, lat2, lon2 *float64) (km float64, ok bool) {
	if lat1 == nil || lon1 == nil || lat2 == nil || lon2 == nil {
		return 0, false
	}
	return Distance(*lat1, *lon1, *lat2, *lon2), true
}

// ValidCoordinates 校验经纬度范围
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
