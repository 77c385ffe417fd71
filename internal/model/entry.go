package model

import (
	"encoding/json"
	"time"
)

// DateLayout は日記の日付キーの書式（YYYY-MM-DD）。
const DateLayout = "2006-01-02"

// Entry は確定済みの睡眠日記エントリを表す。
// (user_id, date) ごとに最大1件。
type Entry struct {
	ID               int64     `json:"entry_id"`
	UserID           int64     `json:"user_id"`
	Date             string    `json:"date"`
	BedTime          time.Time `json:"bed_time"`
	AsleepDelay      int       `json:"asleep_delay"`
	Wakeups          *int      `json:"wakeups,omitempty"`
	TimeAwake        int       `json:"time_awake"`
	WakeupTime       time.Time `json:"wakeup_time"`
	TotalSleep       int       `json:"total_sleep"`
	TotalBedTime     int       `json:"total_bed_time"`
	SleepQuality     int       `json:"sleep_quality"`
	DaytimeAlertness int       `json:"daytime_alertness"`
	SleepMgmtMethods string    `json:"sleep_mgmt_methods,omitempty"`
	SleepFactors     string    `json:"sleep_factors,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Draft は入力途中のエントリのスナップショットを表す。
// Dataはクライアントが送信したJSONをそのまま保持し、スキーマを持たない。
type Draft struct {
	ID        int64           `json:"draft_id"`
	UserID    int64           `json:"user_id"`
	Date      string          `json:"date"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
