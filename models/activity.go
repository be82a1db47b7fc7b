package models

// ActivityType enumerates the reward-bearing activities recognized by the
// XP token contract. Values mirror the on-chain enum ordering.
type ActivityType int

const (
	ActivityLessonCompletion ActivityType = iota
	ActivityDatasetContribution
	ActivityDailyPractice
	ActivityQuizCompletion
	ActivityAchievementEarned
)

func (a ActivityType) String() string {
	switch a {
	case ActivityLessonCompletion:
		return "lesson_completion"
	case ActivityDatasetContribution:
		return "dataset_contribution"
	case ActivityDailyPractice:
		return "daily_practice"
	case ActivityQuizCompletion:
		return "quiz_completion"
	case ActivityAchievementEarned:
		return "achievement_earned"
	default:
		return "unknown"
	}
}

// XPRates maps activity → XP amount. Integer amounts only; token mints must
// not accumulate rounding drift.
type XPRates map[ActivityType]int64

// DefaultXPRates are the rates the contract ships with. Overridable at
// service construction.
var DefaultXPRates = XPRates{
	ActivityLessonCompletion:    50,
	ActivityDatasetContribution: 100,
	ActivityDailyPractice:       10,
	ActivityQuizCompletion:      25,
	ActivityAchievementEarned:   150,
}
