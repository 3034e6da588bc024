package model

import "time"

// ProductLog 客户端上报的产品处理记录，未登录时 AccountID 为空。
type ProductLog struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	AccountID      *uint     `json:"account_id" gorm:"index"`
	Username       string    `json:"username"`
	OriginalTitle  string    `json:"original_title" gorm:"not null"`
	SourceURL      string    `json:"source_url" gorm:"not null"`
	OptimizedTitle string    `json:"optimized_title"`
	Action         string    `json:"action" gorm:"not null"`
	CreatedAt      time.Time `json:"created_at" gorm:"index"`
}

var ProductLogActions = []string{"optimizeTitle", "runAllSteps", "runSelectedSteps"}

func IsValidProductAction(action string) bool {
	for _, a := range ProductLogActions {
		if a == action {
			return true
		}
	}
	return false
}
