package achievements

// Round summarizes a submitted score sequence for rule evaluation.
type Round struct {
	Scores []float64
	Sum    float64
	Min    float64
	Max    float64
}

// NewRound computes the aggregates rules match against. The sequence may be a
// partial round; achievement checks run after every game, not only at the end.
func NewRound(scores []float64) Round {
	round := Round{Scores: scores}
	for index, score := range scores {
		round.Sum += score
		if index == 0 || score < round.Min {
			round.Min = score
		}
		if index == 0 || score > round.Max {
			round.Max = score
		}
	}
	return round
}

// Rule describes one achievement: a stable identifier, the toast payload shown
// to the player, and the predicate deciding whether a round satisfies it.
type Rule struct {
	ID    string
	Title string
	Body  string
	Match func(round Round) bool
}

// RuleByID looks a rule up by its stable identifier.
func RuleByID(id string) (Rule, bool) {
	for _, rule := range Rules {
		if rule.ID == id {
			return rule, true
		}
	}
	return Rule{}, false
}

// Rules is the fixed rule set in evaluation priority order. A round satisfying
// several rules grants exactly one: the first unclaimed match.
var Rules = []Rule{
	{
		ID:    "lucky_7777",
		Title: "77.77점 달성하기",
		Body:  "한 게임에서 정확히 77.77점을 기록했습니다.",
		Match: func(round Round) bool {
			for _, score := range round.Scores {
				if score == 77.77 {
					return true
				}
			}
			return false
		},
	},
	{
		ID:    "over_the_top",
		Title: "한계 돌파",
		Body:  "한 게임에서 100점 이상을 기록했습니다.",
		Match: func(round Round) bool {
			return round.Max >= 100
		},
	},
	{
		ID:    "half_missed",
		Title: "절반의 실패",
		Body:  "50점 미만의 게임이 있습니다.",
		Match: func(round Round) bool {
			return round.Min < 50
		},
	},
	{
		ID:    "perfect_round",
		Title: "퍼펙트 라운드",
		Body:  "세 게임 합계 300점을 달성했습니다.",
		Match: func(round Round) bool {
			return round.Sum == 300
		},
	},
	{
		ID:    "almost_perfect",
		Title: "고수의 향기",
		Body:  "합계 285점 이상을 달성했습니다.",
		Match: func(round Round) bool {
			return round.Sum >= 285
		},
	},
	{
		ID:    "steady_climber",
		Title: "꾸준한 실력",
		Body:  "세 게임 합계 150점 이상을 달성했습니다.",
		Match: func(round Round) bool {
			return len(round.Scores) == 3 && round.Sum >= 150
		},
	},
	{
		ID:    "rock_bottom",
		Title: "바닥 체험",
		Body:  "0.1점 미만의 게임이 있습니다.",
		Match: func(round Round) bool {
			return round.Min < 0.1
		},
	},
	{
		ID:    "all_bands",
		Title: "삼색 균형",
		Body:  "상중하 세 구간의 점수를 모두 기록했습니다.",
		Match: func(round Round) bool {
			var high, mid, low bool
			for _, score := range round.Scores {
				switch {
				case score > 90:
					high = true
				case score > 70:
					mid = true
				default:
					low = true
				}
			}
			return high && mid && low
		},
	},
	{
		ID:    "metronome",
		Title: "한결같은 점수",
		Body:  "세 게임의 점수 차이가 1점 미만입니다.",
		Match: func(round Round) bool {
			return len(round.Scores) == 3 && round.Max-round.Min < 1
		},
	},
}
