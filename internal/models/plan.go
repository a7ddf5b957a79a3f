package models

// Byte size units used by the plan table.
const (
	MB int64 = 1 << 20
	GB int64 = 1 << 30
	TB int64 = 1 << 40
)

// PlanLimits defines the quota ceilings of a plan.
type PlanLimits struct {
	Storage         int64 `json:"storage"`
	Bandwidth       int64 `json:"bandwidth"`
	UploadsPerMonth int64 `json:"uploads_per_month"`
	MaxFileSize     int64 `json:"max_file_size"`
}

var planLimits = map[Plan]PlanLimits{
	PlanFree: {
		Storage:         0,
		Bandwidth:       0,
		UploadsPerMonth: 0,
		MaxFileSize:     5 * MB,
	},
	PlanStarter: {
		Storage:         5 * GB,
		Bandwidth:       50 * GB,
		UploadsPerMonth: 1_000,
		MaxFileSize:     10 * MB,
	},
	PlanProfessional: {
		Storage:         25 * GB,
		Bandwidth:       250 * GB,
		UploadsPerMonth: 10_000,
		MaxFileSize:     25 * MB,
	},
	PlanBusiness: {
		Storage:         100 * GB,
		Bandwidth:       TB,
		UploadsPerMonth: 50_000,
		MaxFileSize:     50 * MB,
	},
	PlanEnterprise: {
		Storage:         TB,
		Bandwidth:       10 * TB,
		UploadsPerMonth: 500_000,
		MaxFileSize:     100 * MB,
	},
}

// GetPlanLimits returns the limits for a plan. Unknown plans get the free tier.
func GetPlanLimits(plan Plan) PlanLimits {
	if limits, ok := planLimits[plan]; ok {
		return limits
	}
	return planLimits[PlanFree]
}
