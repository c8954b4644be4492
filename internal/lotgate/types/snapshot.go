package types

import "time"

type ParkingStatus struct {
	TotalRecords  int `json:"total_vehicles"`
	UnpaidRecords int `json:"unpaid_vehicles"`
	PaidRecords   int `json:"paid_vehicles"`
}

type Occupancy struct {
	Current int `json:"current_count"`
	Unpaid  int `json:"unpaid_count"`
}

type HourlyBucket struct {
	Hour    string `json:"hour"`
	Entries int    `json:"entries"`
}

// Snapshot is what dashboards render: both the pull endpoint and every push
// carry this shape.
type Snapshot struct {
	GeneratedAt        time.Time      `json:"generated_at"`
	ParkingStatus      ParkingStatus  `json:"parking_status"`
	Occupancy          Occupancy      `json:"occupancy"`
	LatestActivity     *LogRecord     `json:"latest_activity"`
	TodayRevenue       int64          `json:"today_revenue"`
	RecentTransactions []Transaction  `json:"recent_transactions"`
	UnauthorizedExits  []LogRecord    `json:"unauthorized_exits"`
	HourlyEntries      []HourlyBucket `json:"hourly_stats"`
}

// Fingerprint summarizes the ledger cheaply enough to poll.  Every write a
// dashboard can see moves at least one field.
type Fingerprint struct {
	LastExit          int64
	LastEntry         int64
	UnauthorizedCount int
	LastTransaction   int64
}

// HourlyBuckets returns the 24 hour-of-day buckets "00".."23" filled from
// counts, zero where absent.
func HourlyBuckets(counts map[int]int) []HourlyBucket {
	out := make([]HourlyBucket, 24)
	for h := 0; h < 24; h++ {
		out[h] = HourlyBucket{Hour: twoDigits(h), Entries: counts[h]}
	}
	return out
}

func twoDigits(n int) string {
	return string([]byte{byte('0' + n/10), byte('0' + n%10)})
}
