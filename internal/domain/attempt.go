package domain

type AttemptStatus string

const (
	AttemptStatusPass       AttemptStatus = "PASS"
	AttemptStatusFail       AttemptStatus = "FAIL"
	AttemptStatusIncomplete AttemptStatus = "INCOMPLETE"
)

// Passed is true when the attempt has a score at or above the pass percentage.
func (a Attempt) Passed(passPercentage float64) bool {
	return a.Score != nil && *a.Score >= passPercentage
}

func (a Attempt) Status(passPercentage float64) AttemptStatus {
	switch {
	case a.Passed(passPercentage):
		return AttemptStatusPass
	case a.IsCompleted:
		return AttemptStatusFail
	default:
		return AttemptStatusIncomplete
	}
}

// Grade scores the selected options, keyed by question ID, against the quiz questions.
// Every question counts once regardless of its points. A selection that is not an option
// of its question is ignored, as if the question was left blank.
func Grade(questions []Question, selected map[int64]int64) (float64, []Response) {
	if len(questions) == 0 {
		return 0, nil
	}

	var (
		correct   int
		responses []Response
	)

	for _, q := range questions {
		id, ok := selected[q.ID]
		if !ok {
			continue
		}

		for _, o := range q.Options {
			if o.ID != id {
				continue
			}

			responses = append(responses, Response{QuestionID: q.ID, OptionID: o.ID})
			if o.IsCorrect {
				correct++
			}
			break
		}
	}

	return float64(correct) / float64(len(questions)) * 100, responses
}
