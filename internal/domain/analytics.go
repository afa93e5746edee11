package domain

import "time"

// StepPerformance - агрегат по шагу через все исторические сессии пользователя
type StepPerformance struct {
	StepID      string        `json:"step_id"`
	Attempts    int           `json:"attempts"` // Запущенные (не SKIPPED/PENDING) выполнения
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	SuccessRate float64       `json:"success_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
}

type HandoffStats struct {
	Pair        string        `json:"pair"`
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	SuccessRate float64       `json:"success_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// HandoffAnalytics — сводка передач между агентами
type HandoffAnalytics struct {
	UserID         string                  `json:"user_id"`
	Sessions       int                     `json:"sessions"`
	Total          int                     `json:"total"`
	Succeeded      int                     `json:"succeeded"`
	SuccessRate    float64                 `json:"success_rate"`
	AvgDuration    time.Duration           `json:"avg_duration"`
	ByPair         map[string]HandoffStats `json:"by_pair"`
	FailureBuckets map[string]int          `json:"failure_buckets"`
}
