package workflow

import "github.com/fieldserv/onboarding/pkg/models"

// AggregateStatus derives the process status from the stop flag and the step
// states. Rules apply in order:
//
//  1. stopped                                          -> stopped
//  2. every step completed                             -> completed
//  3. some step blocked, none pending or in progress   -> blocked
//  4. some step in progress or completed               -> in_progress
//  5. otherwise                                        -> not_started
//
// A process without steps counts as completed.
func AggregateStatus(stopped bool, states []models.StepState) models.ProcessStatus {
	if stopped {
		return models.ProcessStatusStopped
	}

	var pending, blocked, inProgress, completed int

	for _, state := range states {
		switch state {
		case models.StepStatePending:
			pending++
		case models.StepStateBlocked:
			blocked++
		case models.StepStateInProgress:
			inProgress++
		case models.StepStateCompleted:
			completed++
		}
	}

	switch {
	case completed == len(states):
		return models.ProcessStatusCompleted
	case blocked > 0 && pending == 0 && inProgress == 0:
		return models.ProcessStatusBlocked
	case inProgress > 0 || completed > 0:
		return models.ProcessStatusInProgress
	default:
		return models.ProcessStatusNotStarted
	}
}
