package services

import (
	"context"
	"math/rand"

	"traitpair/internal/models"
)

// Answer is what a participant did on the question screen of one trial.
// Times are seconds: ResponseTime from question onset, ConfidenceTime from
// the confidence prompt. A Response of PositionNone means the question timed
// out.
type Answer struct {
	Response       models.Position
	ResponseTime   float64
	Confidence     int
	ConfidenceTime float64
}

// Participant answers the question shown after the videos of a trial.
// timeout is the response deadline in seconds, 0 for none.
type Participant interface {
	Answer(ctx context.Context, trial models.TrialDescriptor, question string, timeout float64) (Answer, error)
}

// SimulatedParticipant answers instantly from a seeded source. It picks the
// high video with probability Accuracy and draws response times from a
// shifted exponential distribution.
type SimulatedParticipant struct {
	rng      *rand.Rand
	Accuracy float64
	MinRT    float64
	MeanRT   float64
}

func NewSimulatedParticipant(rng *rand.Rand) *SimulatedParticipant {
	return &SimulatedParticipant{
		rng:      rng,
		Accuracy: 0.7,
		MinRT:    0.3,
		MeanRT:   1.2,
	}
}

func (p *SimulatedParticipant) Answer(ctx context.Context, trial models.TrialDescriptor, question string, timeout float64) (Answer, error) {
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}

	rt := p.MinRT + p.rng.ExpFloat64()*p.MeanRT
	if timeout > 0 && rt > timeout {
		return Answer{ResponseTime: timeout}, nil
	}

	choice := trial.HighPosition
	if p.rng.Float64() >= p.Accuracy {
		choice = otherSide(choice)
	}
	return Answer{
		Response:       choice,
		ResponseTime:   rt,
		Confidence:     models.MinConfidence + p.rng.Intn(models.MaxConfidence-models.MinConfidence+1),
		ConfidenceTime: 0.2 + p.rng.Float64(),
	}, nil
}

func otherSide(p models.Position) models.Position {
	if p == models.PositionLeft {
		return models.PositionRight
	}
	return models.PositionLeft
}
