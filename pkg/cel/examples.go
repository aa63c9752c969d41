package cel

// ConditionExamples lists rule conditions as operators write them.
var ConditionExamples = map[string]string{
	"status_equals":    `entity.status == "unpaid"`,
	"amount_threshold": `double(entity.amount) >= 100.0`,
	"in_list":          `entity.grade in ["9", "10", "11"]`,
	"has_field":        `has(entity.guardian_phone) && entity.guardian_phone != ""`,
	"due_in_past":      `timestamp(entity.due_date) < now`,
	"due_within_week":  `timestamp(entity.due_date) - now < duration("168h")`,
	"string_contains":  `entity.email.contains("@school.edu")`,
	"combined":         `entity.status == "unpaid" && double(entity.amount) > 50.0`,
	"tenant_specific":  `tenant_id == "school-1" || entity.priority == "high"`,
	"negated":          `!(entity.status in ["paid", "waived"])`,
}
