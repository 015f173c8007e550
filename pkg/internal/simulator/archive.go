package simulator

import (
	"sync"

	"gorm.io/gorm"

	"github.com/tutorlink/calling/pkg/internal/models"
)

const historyPageSize = 20

// Archive keeps finished calls for the history endpoint. The database
// archive backs deployments; the memory archive backs tests and ad-hoc
// simulator runs without a datasource.
type Archive interface {
	Save(rec models.CallRecord) error
	List(userID string, page int) ([]models.CallRecord, int, error)
}

type DatabaseArchive struct {
	db *gorm.DB
}

func NewDatabaseArchive(db *gorm.DB) *DatabaseArchive {
	return &DatabaseArchive{db: db}
}

func (a *DatabaseArchive) Save(rec models.CallRecord) error {
	return a.db.Create(&rec).Error
}

func (a *DatabaseArchive) List(userID string, page int) ([]models.CallRecord, int, error) {
	if page < 1 {
		page = 1
	}

	query := a.db.Model(&models.CallRecord{}).
		Where("student_id = ? OR teacher_id = ?", userID, userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var recs []models.CallRecord
	if err := query.
		Order("started_at DESC").
		Limit(historyPageSize).
		Offset((page - 1) * historyPageSize).
		Find(&recs).Error; err != nil {
		return nil, 0, err
	}

	return recs, totalPages(int(total)), nil
}

type MemoryArchive struct {
	mu   sync.Mutex
	recs []models.CallRecord
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{}
}

func (a *MemoryArchive) Save(rec models.CallRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	// newest first
	a.recs = append([]models.CallRecord{rec}, a.recs...)
	return nil
}

func (a *MemoryArchive) List(userID string, page int) ([]models.CallRecord, int, error) {
	if page < 1 {
		page = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var mine []models.CallRecord
	for _, rec := range a.recs {
		if rec.StudentID == userID || rec.TeacherID == userID {
			mine = append(mine, rec)
		}
	}

	start := (page - 1) * historyPageSize
	if start >= len(mine) {
		return nil, totalPages(len(mine)), nil
	}
	end := start + historyPageSize
	if end > len(mine) {
		end = len(mine)
	}
	return mine[start:end], totalPages(len(mine)), nil
}

func totalPages(total int) int {
	pages := (total + historyPageSize - 1) / historyPageSize
	if pages < 1 {
		pages = 1
	}
	return pages
}
