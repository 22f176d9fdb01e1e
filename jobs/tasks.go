package jobs

import (
	"fmt"
	"sort"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/clinicos/backoffice/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskClaimsGenerate builds claims for every active company.
	TaskClaimsGenerate = "corporate:claims:generate"
	// TaskJournalIntegrity scans stored journal entries for imbalance.
	TaskJournalIntegrity = "finance:journal:integrity"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

var taskBuilders = map[string]func() (*asynq.Task, error){
	TaskClaimsGenerate:   func() (*asynq.Task, error) { return NewClaimsGenerateTask("all", PeriodPrevious) },
	TaskJournalIntegrity: func() (*asynq.Task, error) { return NewJournalIntegrityTask(0) },
}

// TaskTypes lists the task types that can be triggered by name.
func TaskTypes() []string {
	out := make([]string, 0, len(taskBuilders))
	for name := range taskBuilders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NewTaskByName builds a task with default payload for manual triggering.
func NewTaskByName(name string) (*asynq.Task, error) {
	build, ok := taskBuilders[name]
	if !ok {
		return nil, fmt.Errorf("unknown task %q", name)
	}
	return build()
}
