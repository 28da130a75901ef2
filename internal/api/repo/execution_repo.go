package repo

import (
	"gorm.io/gorm"

	"flowstudio"
	"flowstudio/internal/api/models"
)

type ExecutionRepository struct {
	Db *gorm.DB
}

func NewExecutionRepository() *ExecutionRepository {
	return &ExecutionRepository{Db: flowstudio.DB}
}

// Migrate creates or updates the execution table.
func (slf *ExecutionRepository) Migrate() error {
	return slf.Db.AutoMigrate(&models.WorkflowExecution{})
}

// Create stores a finished run
func (slf *ExecutionRepository) Create(execution *models.WorkflowExecution) error {
	return slf.Db.Create(execution).Error
}

// FindByID retrieves a run by its execution id
func (slf *ExecutionRepository) FindByID(id string) (models.WorkflowExecution, error) {
	var execution models.WorkflowExecution
	err := slf.Db.Where("id = ?", id).First(&execution).Error
	return execution, err
}

// FindRecent lists the latest runs, newest first
func (slf *ExecutionRepository) FindRecent(limit int) ([]models.WorkflowExecution, error) {
	var executions []models.WorkflowExecution
	err := slf.Db.
		Order("started_at DESC").
		Limit(limit).
		Find(&executions).Error
	return executions, err
}
