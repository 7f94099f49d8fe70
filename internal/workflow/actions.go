package workflow

import "github.com/onchainlabs1/sentinel/internal/models"

// containmentActions is the fixed mitigation dispatch table keyed by category.
var containmentActions = map[models.Category]string{
	models.CategorySecurity:    "isolated affected session and revoked credentials",
	models.CategoryPerformance: "enabled load shedding on degraded endpoints",
	models.CategoryDataQuality: "quarantined affected dataset",
	models.CategoryCompliance:  "froze pending change window",
	models.CategoryGeneral:     "placed source under enhanced monitoring",
}

var recoveryActions = map[models.Category]string{
	models.CategorySecurity:    "restored session handling with rotated credentials",
	models.CategoryPerformance: "disabled load shedding after latency normalised",
	models.CategoryDataQuality: "released dataset after revalidation",
	models.CategoryCompliance:  "reopened change window with added controls",
	models.CategoryGeneral:     "returned source to standard monitoring",
}

func containmentAction(cat models.Category) string {
	if action, ok := containmentActions[cat]; ok {
		return action
	}
	return containmentActions[models.CategoryGeneral]
}

func recoveryAction(cat models.Category) string {
	if action, ok := recoveryActions[cat]; ok {
		return action
	}
	return recoveryActions[models.CategoryGeneral]
}
