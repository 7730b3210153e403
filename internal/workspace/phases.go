package workspace

import (
	"podium/internal/task"
)

// PhaseStatus is the derived completion state of one plan phase. Completion
// is always recomputed from the snapshot; the filesystem is the ground truth.
type PhaseStatus struct {
	Phase        task.Phase `json:"phase"`
	Complete     bool       `json:"complete"`
	MissingFiles []string   `json:"missing_files,omitempty"`
}

// EvaluatePlan computes each phase's completion by set-difference of its
// expected files against the snapshot.
func EvaluatePlan(plan *task.Plan, snap *Snapshot) []PhaseStatus {
	if plan == nil {
		return nil
	}
	statuses := make([]PhaseStatus, 0, len(plan.Phases))
	for _, phase := range plan.Phases {
		status := PhaseStatus{Phase: phase, Complete: true}
		for _, expected := range phase.ExpectedFiles {
			if !snap.Contains(expected) {
				status.Complete = false
				status.MissingFiles = append(status.MissingFiles, expected)
			}
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// FirstIncomplete returns the earliest phase with missing files, or nil when
// every phase is complete.
func FirstIncomplete(statuses []PhaseStatus) *PhaseStatus {
	for i := range statuses {
		if !statuses[i].Complete {
			return &statuses[i]
		}
	}
	return nil
}
