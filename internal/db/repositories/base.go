package repositories

import (
	"nexuseval/internal/db"
)

type Repositories struct {
	Evaluations *EvaluationRepo
	Feedback    *FeedbackRepo
	Tenants     *TenantRepo
}

func New(database *db.DB) *Repositories {
	conn := database.Conn()

	return &Repositories{
		Evaluations: NewEvaluationRepo(conn),
		Feedback:    NewFeedbackRepo(conn),
		Tenants:     NewTenantRepo(conn),
	}
}
